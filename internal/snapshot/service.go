// Package snapshot keeps a per-document git history of saved email designs,
// one repository per document identity.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Design is the committed payload for one save.
type Design struct {
	Name string `json:"name,omitempty"`
	HTML string `json:"html"`
	CSS  string `json:"css"`
}

// Entry is one point of a document's history.
type Entry struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Save commits the design into the document's repository, initializing it
// on first use.
func (s *Service) Save(documentID string, design Design, author string) (Entry, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	repo, err := s.openOrInit(path)
	if err != nil {
		return Entry{}, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(design, "", "  ")
	if err != nil {
		return Entry{}, fmt.Errorf("marshal design: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, "design.json"), append(payload, '\n'), 0o644); err != nil {
		return Entry{}, fmt.Errorf("write design: %w", err)
	}
	if _, err := worktree.Add("design.json"); err != nil {
		return Entry{}, fmt.Errorf("git add design: %w", err)
	}

	if author == "" {
		author = "mailsmith"
	}
	message := "Save design"
	if design.Name != "" {
		message = fmt.Sprintf("Save design %q", design.Name)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@mailsmith.local", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("commit design: %w", err)
	}

	return Entry{
		Hash:    hash.String(),
		Message: message,
		Author:  author,
		When:    time.Now(),
	}, nil
}

// History lists commits, newest first. A document with no snapshots yields
// an empty history, not an error.
func (s *Service) History(documentID string) ([]Entry, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	head, err := repo.Head()
	if err != nil {
		return []Entry{}, nil
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var entries []Entry
	err = iter.ForEach(func(commit *object.Commit) error {
		entries = append(entries, Entry{
			Hash:    commit.Hash.String(),
			Message: commit.Message,
			Author:  commit.Author.Name,
			When:    commit.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Latest returns the most recently saved design.
func (s *Service) Latest(documentID string) (Design, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	raw, err := os.ReadFile(filepath.Join(s.repoPath(documentID), "design.json"))
	if err != nil {
		return Design{}, fmt.Errorf("read latest design: %w", err)
	}
	var design Design
	if err := json.Unmarshal(raw, &design); err != nil {
		return Design{}, fmt.Errorf("decode latest design: %w", err)
	}
	return design, nil
}

func (s *Service) openOrInit(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[documentID] = lock
	}
	return lock
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, sanitizePath(documentID))
}

func sanitizePath(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "document"
	}
	return b.String()
}

func sanitizeEmail(author string) string {
	lowered := strings.ToLower(author)
	var b strings.Builder
	for _, r := range lowered {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('.')
		}
	}
	if b.Len() == 0 {
		return "mailsmith"
	}
	return b.String()
}
