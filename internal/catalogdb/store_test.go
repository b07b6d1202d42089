package catalogdb

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertPortal_insertAndUpdate(t *testing.T) {
	s := openTestStore(t)
	p := Portal{PortalID: "p1", Name: "Portal One", URL: "http://example.com", Enabled: true, StreamsPerMAC: 2}
	if err := s.UpsertPortal(p); err != nil {
		t.Fatalf("UpsertPortal: %v", err)
	}
	p.Name = "Portal One Renamed"
	if err := s.UpsertPortal(p); err != nil {
		t.Fatalf("UpsertPortal update: %v", err)
	}
}

func TestDeletePortal_cascadesMACs(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertPortal(Portal{PortalID: "p1", Name: "P", URL: "http://x"}); err != nil {
		t.Fatalf("UpsertPortal: %v", err)
	}
	if err := s.UpsertMAC(MAC{PortalID: "p1", MACAddress: "00:11:22:33:44:55"}); err != nil {
		t.Fatalf("UpsertMAC: %v", err)
	}
	if err := s.DeletePortal("p1"); err != nil {
		t.Fatalf("DeletePortal: %v", err)
	}
	macs, err := s.MACsForPortal("p1")
	if err != nil {
		t.Fatalf("MACsForPortal: %v", err)
	}
	if len(macs) != 0 {
		t.Fatalf("expected macs cascaded away, got %d", len(macs))
	}
}

func TestMAC_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	cases := []struct {
		name    string
		expires *time.Time
		want    bool
	}{
		{"nil never expires", nil, false},
		{"past expires", &past, true},
		{"future does not expire", &future, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			m := MAC{ExpiresAt: c.expires}
			if got := m.Expired(now); got != c.want {
				t.Fatalf("Expired() = %v, want %v", got, c.want)
			}
		})
	}
}

func TestSetGroupActive_neverDeletesChannels(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertPortal(Portal{PortalID: "p1", Name: "P", URL: "http://x"}); err != nil {
		t.Fatalf("UpsertPortal: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO groups (portal_id, genre_id, name, channel_count, active) VALUES (?, ?, ?, 1, 1)`, "p1", "g1", "News"); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	if _, err := s.db.Exec(`INSERT INTO channels (portal_id, channel_id, name, genre_id, channel_hash) VALUES (?, ?, ?, ?, ?)`, "p1", "c1", "BBC", "g1", "h1"); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	if err := s.SetGroupActive("p1", "g1", false); err != nil {
		t.Fatalf("SetGroupActive: %v", err)
	}
	c, found, err := s.Channel("p1", "c1")
	if err != nil || !found {
		t.Fatalf("expected channel to survive group deactivation, found=%v err=%v", found, err)
	}
	if c.ChannelID != "c1" {
		t.Fatalf("unexpected channel returned: %+v", c)
	}
}

func TestEffectiveDisplayName_precedence(t *testing.T) {
	c := Channel{Name: "raw", AutoName: "auto", CustomName: "custom"}
	if got := c.EffectiveDisplayName(); got != "custom" {
		t.Fatalf("expected custom_name precedence, got %q", got)
	}
	c.CustomName = ""
	if got := c.EffectiveDisplayName(); got != "auto" {
		t.Fatalf("expected auto_name fallback, got %q", got)
	}
	c.AutoName = ""
	if got := c.EffectiveDisplayName(); got != "raw" {
		t.Fatalf("expected raw name fallback, got %q", got)
	}
}

func TestEffectiveEPGID_fallsBackToDerived(t *testing.T) {
	c := Channel{PortalID: "p1", ChannelID: "c1"}
	if got := c.EffectiveEPGID(); got != "p1.c1" {
		t.Fatalf("expected derived fallback id, got %q", got)
	}
	c.MatchedStationID = "cnn.us"
	if got := c.EffectiveEPGID(); got != "cnn.us" {
		t.Fatalf("expected matched_station_id, got %q", got)
	}
	c.CustomEPGID = "manual.id"
	if got := c.EffectiveEPGID(); got != "manual.id" {
		t.Fatalf("expected custom_epg_id precedence, got %q", got)
	}
}
