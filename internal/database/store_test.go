package database

import (
	"testing"
	"time"
)

func TestStore_InsertAndRecent(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_, err := s.Insert(CaptureEvent{
			ArtifactID: []string{"a", "b", "c"}[i],
			Path:       "captures/" + []string{"a", "b", "c"}[i] + ".jpg",
			Marker:     "qr",
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	events, err := s.Recent(2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].ArtifactID != "c" || events[1].ArtifactID != "b" {
		t.Errorf("expected newest first, got %q then %q", events[0].ArtifactID, events[1].ArtifactID)
	}
	if events[0].Path != "captures/c.jpg" {
		t.Errorf("unexpected path %q", events[0].Path)
	}

	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("expected count 3, got %d", n)
	}
}

func TestStore_DuplicateArtifactRejected(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	ev := CaptureEvent{ArtifactID: "dup", Path: "captures/dup.jpg", CreatedAt: time.Now()}
	if _, err := s.Insert(ev); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := s.Insert(ev); err == nil {
		t.Error("expected error inserting duplicate artifact id")
	}
}

func TestStore_RecentEmpty(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	events, err := s.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}
