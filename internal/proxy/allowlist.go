package proxy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// AllowListEntry is a single permitted (board, public port) pair, per
// spec.md §6's allowlist file contract.
type AllowListEntry struct {
	Client string `json:"client"`
	Port   string `json:"port"`
}

// AllowList is the set of (board, public port) pairs boards are permitted to
// expose, read by lightning-rod agents from the path configured by
// [wamp] service_allow_list_path (spec.md §6). The Conductor owns writing
// it: every addin_allowlist/remove_from_allowlist request rewrites the full
// file from current database state rather than patching it in place.
type AllowList struct {
	path string
}

// NewAllowList constructs an AllowList backed by the file at path.
func NewAllowList(path string) *AllowList {
	return &AllowList{path: path}
}

// Write atomically replaces the allow-list file's contents: written to a
// temp file in the same directory, then renamed over the target, so readers
// never observe a partially-written file.
func (a *AllowList) Write(entries []AllowListEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding allow list: %w", err)
	}

	tmp := a.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(a.path), 0755); err != nil {
		return fmt.Errorf("creating allow list directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing allow list temp file: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("replacing allow list: %w", err)
	}
	return nil
}

// Read loads the current allow list. A missing file is treated as empty.
func (a *AllowList) Read() ([]AllowListEntry, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading allow list: %w", err)
	}
	var entries []AllowListEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding allow list: %w", err)
	}
	return entries, nil
}
