package search

import (
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxTemplates = "mailsmith_templates"

// Meili indexes template records in Meilisearch. Constructed best-effort:
// if the server is down the instance stays registered and a health loop
// promotes it back when the server returns.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: idxTemplates, PrimaryKey: "id"}); err != nil {
		log.Printf("search: create index: %v", err)
	}
	index := m.client.Index(idxTemplates)
	if _, err := index.UpdateSearchableAttributes(&[]string{"name", "description"}); err != nil {
		log.Printf("search: configure searchable attributes: %v", err)
	}
	if _, err := index.UpdateFilterableAttributes(&[]interface{}{"category"}); err != nil {
		log.Printf("search: configure filterable attributes: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Printf("search: meilisearch recovered")
				m.configureIndex()
			}
		}
	}
}

func (m *Meili) Healthy() bool { return m.healthy.Load() }

func (m *Meili) IndexTemplate(record Record) error {
	if _, err := m.client.Index(idxTemplates).AddDocuments([]Record{record}, nil); err != nil {
		return fmt.Errorf("index template %s: %w", record.ID, err)
	}
	return nil
}

func (m *Meili) Search(query string, limit int) ([]Result, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	resp, err := m.client.Index(idxTemplates).Search(query, &meili.SearchRequest{Limit: int64(limit)})
	if err != nil {
		return nil, 0, fmt.Errorf("meilisearch query: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, Result{
			ID:          decodeString(hit, "id"),
			Name:        decodeString(hit, "name"),
			Description: decodeString(hit, "description"),
		})
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func (m *Meili) Close() {
	close(m.done)
}
