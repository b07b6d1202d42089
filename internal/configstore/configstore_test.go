package configstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_missingFileIsEmptyDocument(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if len(s.EnabledPortalIDs()) != 0 {
		t.Errorf("expected no portals for fresh store")
	}
}

func TestUpdate_persistsAndReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Update(func(d *Document) error {
		d.Portals["p1"] = &Portal{
			Name:    "Example Portal",
			URL:     "http://portal.example/stalker_portal/server/load.php",
			Enabled: true,
			MACs: map[string]MAC{
				"00:1A:79:AA:BB:CC": {Expiry: "2027-01-01", WatchdogTimeout: 900, PlaybackLimit: 2},
			},
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	p, ok := s2.Portal("p1")
	if !ok {
		t.Fatalf("portal p1 missing after reload")
	}
	if p.Name != "Example Portal" || !p.Enabled {
		t.Errorf("portal fields not preserved: %+v", p)
	}
	if mac, ok := p.MACs["00:1A:79:AA:BB:CC"]; !ok || mac.PlaybackLimit != 2 {
		t.Errorf("mac not preserved: %+v", p.MACs)
	}
}

func TestUpdate_preservesUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	initial := `{
	  "settings": {"theme": "dark"},
	  "portals": {
	    "p1": {
	      "name": "P1",
	      "url": "http://p1",
	      "enabled": true,
	      "macs": {},
	      "editor_notes": "do not touch"
	    }
	  },
	  "ui_version": 3
	}`
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Update(func(d *Document) error {
		d.Portals["p1"].EPGOffset = 60
		return nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["ui_version"]; !ok {
		t.Errorf("top-level unknown key ui_version was dropped")
	}
	var portals map[string]json.RawMessage
	if err := json.Unmarshal(out["portals"], &portals); err != nil {
		t.Fatal(err)
	}
	var p map[string]json.RawMessage
	if err := json.Unmarshal(portals["p1"], &p); err != nil {
		t.Fatal(err)
	}
	if _, ok := p["editor_notes"]; !ok {
		t.Errorf("unknown portal key editor_notes was dropped")
	}
	var epgOffset int
	if err := json.Unmarshal(p["epg offset"], &epgOffset); err != nil || epgOffset != 60 {
		t.Errorf("epg offset not updated: %v (err=%v)", epgOffset, err)
	}
}

func TestEnabledPortalIDs_sortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	err = s.Update(func(d *Document) error {
		d.Portals["zeta"] = &Portal{Enabled: true}
		d.Portals["alpha"] = &Portal{Enabled: true}
		d.Portals["disabled"] = &Portal{Enabled: false}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	got := s.EnabledPortalIDs()
	want := []string{"alpha", "zeta"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("EnabledPortalIDs() = %v, want %v", got, want)
	}
}
