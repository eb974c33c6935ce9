package editor

import (
	"context"
	"errors"
	"testing"
)

type recordingInvalidator struct {
	cleared int
	err     error
}

func (r *recordingInvalidator) Clear(ctx context.Context) error {
	r.cleared++
	return r.err
}

func TestIdentityLimitClearsStoreAndSuppresses(t *testing.T) {
	invalidator := &recordingInvalidator{}
	classifier := NewClassifier(invalidator)

	visible := classifier.Classify(context.Background(), []Notification{
		{Level: "error", Message: "You have reached the maximum number of messages for your plan"},
	})
	if len(visible) != 0 {
		t.Errorf("identity-limit error should be suppressed, got %v", visible)
	}
	if invalidator.cleared != 1 {
		t.Errorf("expected identity store cleared once, got %d", invalidator.cleared)
	}
}

func TestPluginConfig403Suppressed(t *testing.T) {
	invalidator := &recordingInvalidator{}
	classifier := NewClassifier(invalidator)

	visible := classifier.Classify(context.Background(), []Notification{
		{Level: "error", Message: "GET pluginConfiguration returned 403 Forbidden"},
	})
	if len(visible) != 0 {
		t.Errorf("plugin-config 403 should be suppressed, got %v", visible)
	}
	if invalidator.cleared != 0 {
		t.Errorf("plugin-config 403 must not clear the identity, cleared %d times", invalidator.cleared)
	}
}

func TestOrdinaryNotificationsStayVisible(t *testing.T) {
	classifier := NewClassifier(&recordingInvalidator{})

	notes := []Notification{
		{Level: "info", Message: "autosave complete"},
		{Level: "error", Message: "row could not be pasted"},
		{Level: "success", Message: "template saved"},
	}
	visible := classifier.Classify(context.Background(), notes)
	if len(visible) != 3 {
		t.Fatalf("expected 3 visible notifications, got %d", len(visible))
	}
}

func TestClearFailureDoesNotPanicOrSurface(t *testing.T) {
	invalidator := &recordingInvalidator{err: errors.New("redis down")}
	classifier := NewClassifier(invalidator)

	visible := classifier.Classify(context.Background(), []Notification{
		{Level: "error", Message: "creation quota exceeded"},
	})
	if len(visible) != 0 {
		t.Errorf("limit error stays suppressed even when the clear fails, got %v", visible)
	}
}

// Non-error levels never match the limit markers, even with matching prose.
func TestLimitMarkersOnlyMatchErrors(t *testing.T) {
	invalidator := &recordingInvalidator{}
	classifier := NewClassifier(invalidator)

	visible := classifier.Classify(context.Background(), []Notification{
		{Level: "info", Message: "approaching your message limit"},
	})
	if len(visible) != 1 {
		t.Errorf("info mentioning limits should stay visible, got %v", visible)
	}
	if invalidator.cleared != 0 {
		t.Errorf("info must not clear identity, cleared %d times", invalidator.cleared)
	}
}
