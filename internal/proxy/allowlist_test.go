package proxy

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestAllowListReadMissingFileIsEmpty(t *testing.T) {
	a := NewAllowList(filepath.Join(t.TempDir(), "nested", "allow.json"))

	entries, err := a.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if entries != nil {
		t.Fatalf("expected nil for missing file, got %v", entries)
	}
}

func TestAllowListWriteReadRoundTrip(t *testing.T) {
	a := NewAllowList(filepath.Join(t.TempDir(), "nested", "allow.json"))

	want := []AllowListEntry{
		{Client: "board-1", Port: "10022"},
		{Client: "board-2", Port: "10080"},
	}
	if err := a.Write(want); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := a.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestAllowListWriteOverwritesPriorContents(t *testing.T) {
	a := NewAllowList(filepath.Join(t.TempDir(), "allow.json"))

	if err := a.Write([]AllowListEntry{{Client: "board-1", Port: "10022"}}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := a.Write([]AllowListEntry{{Client: "board-2", Port: "10080"}}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	got, err := a.Read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []AllowListEntry{{Client: "board-2", Port: "10080"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}
