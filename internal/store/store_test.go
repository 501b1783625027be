package store

import (
	"path/filepath"
	"testing"

	"medication-reminder/internal/database"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}
	defer s.Close()

	data, err := s.Load("history")
	if err != nil {
		t.Fatalf("Unexpected error loading missing key: %v", err)
	}
	if data != nil {
		t.Errorf("Expected nil for missing key, got %q", data)
	}

	doc := []byte(`{"events":{}}`)
	if err := s.Save("history", doc); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	data, err = s.Load("history")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if string(data) != string(doc) {
		t.Errorf("Loaded %q, want %q", data, doc)
	}
}

func TestFileStoreOverwrite(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create file store: %v", err)
	}
	defer s.Close()

	if err := s.Save("history", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if err := s.Save("history", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Failed to overwrite: %v", err)
	}

	data, err := s.Load("history")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if string(data) != `{"v":2}` {
		t.Errorf("Loaded %q, want overwritten value", data)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("Failed to create sqlite store: %v", err)
	}
	defer s.Close()

	data, err := s.Load("history")
	if err != nil {
		t.Fatalf("Unexpected error loading missing key: %v", err)
	}
	if data != nil {
		t.Errorf("Expected nil for missing key, got %q", data)
	}

	if err := s.Save("history", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}
	if err := s.Save("history", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Failed to upsert: %v", err)
	}

	data, err = s.Load("history")
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if string(data) != `{"v":2}` {
		t.Errorf("Loaded %q, want upserted value", data)
	}
}
