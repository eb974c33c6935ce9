package editor

import (
	"context"
	"log"
	"strings"
)

// Notification is one entry from the embedded editor's structured
// notification sink.
type Notification struct {
	Level   string `json:"level"` // info | warn | error | success
	Message string `json:"message"`
}

// identityLimitMarkers are matched case-insensitively against error
// notifications. The remote service has no structured code for its
// creation-limit condition, only prose.
var identityLimitMarkers = []string{
	"limit",
	"quota",
	"maximum number of messages",
}

// suppressedMarkers are upstream noise the vendor documents as harmless;
// plugin-config fetches may 403 on some plans without affecting operation.
var suppressedMarkers = []string{
	"pluginconfiguration",
	"plugin-config",
	"403",
}

// IdentityInvalidator is what the classifier needs to self-heal an
// identity-limit error: drop the stored identity so the next mount starts
// fresh.
type IdentityInvalidator interface {
	Clear(ctx context.Context) error
}

// Classifier routes editor notifications: identity-limit errors self-heal
// and are suppressed from the visible stream, documented-harmless upstream
// errors are suppressed, everything else is logged and surfaced.
type Classifier struct {
	invalidator IdentityInvalidator
}

func NewClassifier(invalidator IdentityInvalidator) *Classifier {
	return &Classifier{invalidator: invalidator}
}

// Classify returns the notifications that should stay visible.
func (c *Classifier) Classify(ctx context.Context, notes []Notification) []Notification {
	var visible []Notification
	for _, note := range notes {
		if note.Level == "error" && containsAny(note.Message, identityLimitMarkers) {
			log.Printf("editor: identity limit reported, clearing stored identity: %s", note.Message)
			if c.invalidator != nil {
				if err := c.invalidator.Clear(ctx); err != nil {
					log.Printf("editor: failed to clear identity after limit error: %v", err)
				}
			}
			continue
		}
		if note.Level == "error" && containsAny(note.Message, suppressedMarkers) {
			log.Printf("editor: suppressed upstream notification: %s", note.Message)
			continue
		}
		log.Printf("editor: notification [%s] %s", note.Level, note.Message)
		visible = append(visible, note)
	}
	return visible
}

func containsAny(message string, markers []string) bool {
	lowered := strings.ToLower(message)
	for _, marker := range markers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}
