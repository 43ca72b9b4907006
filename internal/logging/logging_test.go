package logging

import "testing"

func TestNewBuildsLoggerAtValidLevel(t *testing.T) {
	log, err := New("debug")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewFallsBackOnUnknownLevel(t *testing.T) {
	log, err := New("not-a-real-level")
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if log == nil {
		t.Fatal("expected non-nil logger even for an unrecognized level")
	}
}
