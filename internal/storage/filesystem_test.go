package storage

import (
	"bytes"
	"context"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	key, err := s.Write(context.Background(), "projects/p1/slot-00.png", []byte("payload"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key != "projects/p1/slot-00.png" {
		t.Fatalf("unexpected key: %s", key)
	}

	data, err := s.Read(context.Background(), key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, []byte("payload")) {
		t.Fatal("payload mismatch")
	}

	if _, err := s.Read(context.Background(), "projects/p1/missing.png"); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	for _, key := range []string{"", ".", "../escape.png", "a/../../escape.png"} {
		if _, err := s.Write(context.Background(), key, []byte("x")); err == nil {
			t.Fatalf("key %q should be rejected", key)
		}
	}

	// Leading slashes and backslashes are normalized, not rejected.
	key, err := s.Write(context.Background(), "/projects\\p2\\img.png", []byte("x"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if key != "projects/p2/img.png" {
		t.Fatalf("unexpected normalized key: %s", key)
	}
}

func TestNewFileStoreRequiresPath(t *testing.T) {
	if _, err := NewFileStore("  "); err == nil {
		t.Fatal("expected error for empty base path")
	}
}
