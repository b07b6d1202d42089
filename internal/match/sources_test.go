package match

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/snapetech/stalkerproxy/internal/iptvorg"
)

func TestLoadExternalDirectory_mergesConfiguredSourcesOnly(t *testing.T) {
	dir := t.TempDir()
	iptvPath := filepath.Join(dir, "iptvorg.json")
	db := &iptvorg.DB{Channels: []iptvorg.Channel{
		{ID: "cnn.us", Name: "CNN", Country: "US"},
	}}
	data, err := json.Marshal(db)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(iptvPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := LoadExternalDirectory(ExternalSources{IPTVOrgPath: iptvPath})
	if err != nil {
		t.Fatalf("LoadExternalDirectory: %v", err)
	}
	if len(got.Entries) != 1 {
		t.Fatalf("expected 1 merged entry, got %d", len(got.Entries))
	}
	if got.Entries[0].StationID != "iptvorg:cnn.us" {
		t.Fatalf("expected namespaced station id, got %q", got.Entries[0].StationID)
	}
}

func TestLoadExternalDirectory_emptyWhenNoSourcesConfigured(t *testing.T) {
	got, err := LoadExternalDirectory(ExternalSources{})
	if err != nil {
		t.Fatalf("LoadExternalDirectory: %v", err)
	}
	if len(got.Entries) != 0 {
		t.Fatalf("expected empty directory, got %d entries", len(got.Entries))
	}
}
