package types //nolint:revive // types is a valid package name

import "testing"

func TestEventTypeIsTerminal(t *testing.T) {
	terminal := []EventType{EventTypeRunComplete, EventTypeRunError}
	for _, et := range terminal {
		if !et.IsTerminal() {
			t.Errorf("EventType(%q).IsTerminal() = false, want true", et)
		}
	}

	nonTerminal := []EventType{
		EventTypeItem, EventTypeArtifact, EventTypeCheckpoint,
		EventTypeLog, EventTypeEnqueue, EventTypeRotateProxy,
	}
	for _, et := range nonTerminal {
		if et.IsTerminal() {
			t.Errorf("EventType(%q).IsTerminal() = true, want false", et)
		}
	}
}
