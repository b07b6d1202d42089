package xmltvgen

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestProgrammeDB(t *testing.T, rows ...[11]interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE programmes (
		channel_id TEXT, start_ts INTEGER, stop_ts INTEGER, title TEXT, sub_title TEXT,
		description TEXT, categories TEXT, episode_num TEXT, rating TEXT, programme_icon TEXT, extra_json TEXT
	)`)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		_, err := db.Exec(`INSERT INTO programmes
			(channel_id, start_ts, stop_ts, title, sub_title, description, categories, episode_num, rating, programme_icon, extra_json)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`, r[0], r[1], r[2], r[3], r[4], r[5], r[6], r[7], r[8], r[9], r[10])
		if err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestWrite_emitsChannelAndResolvedProgrammes(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	dbPath := newTestProgrammeDB(t, [11]interface{}{
		"upstream-1", now.Unix(), now.Add(time.Hour).Unix(), "The Show", "", "A description", `["News"]`, "", "", "",
	})

	channels := []Channel{
		{EPGID: "ch1.local", DisplayName: "Channel One", Icon: "http://x/i.png", LCN: "1", PortalID: "p1", ChannelID: "c1"},
	}
	sources := []SourceRef{{SourceID: "src1", DBPath: dbPath}}
	resolve := func(sourceID, epgID string) (ResolvedChannel, bool, error) {
		if sourceID == "src1" && epgID == "ch1.local" {
			return ResolvedChannel{SourceID: "src1", ChannelID: "upstream-1"}, true, nil
		}
		return ResolvedChannel{}, false, nil
	}

	var buf bytes.Buffer
	err := Write(&buf, channels, sources, resolve, Window{From: now.Add(-time.Hour), To: now.Add(24 * time.Hour)})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, `<channel id="ch1.local">`) {
		t.Errorf("missing channel element:\n%s", out)
	}
	if !strings.Contains(out, "<display-name>Channel One</display-name>") {
		t.Errorf("missing display-name:\n%s", out)
	}
	if !strings.Contains(out, `channel="ch1.local"`) {
		t.Errorf("missing programme channel ref:\n%s", out)
	}
	if !strings.Contains(out, "<title>The Show</title>") {
		t.Errorf("missing programme title:\n%s", out)
	}
	if !strings.Contains(out, "<category>News</category>") {
		t.Errorf("missing category:\n%s", out)
	}
}

func TestWrite_unresolvedChannelHasNoProgrammes(t *testing.T) {
	channels := []Channel{{EPGID: "ch1.local", DisplayName: "Channel One"}}
	resolve := func(sourceID, epgID string) (ResolvedChannel, bool, error) {
		return ResolvedChannel{}, false, nil
	}

	var buf bytes.Buffer
	err := Write(&buf, channels, nil, resolve, Window{From: time.Now(), To: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if strings.Contains(buf.String(), "<programme") {
		t.Errorf("expected no programme elements for unresolved channel:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), `<channel id="ch1.local">`) {
		t.Errorf("expected the channel element to still be emitted:\n%s", buf.String())
	}
}

func TestWrite_epgOffsetShiftsStartAndStop(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	dbPath := newTestProgrammeDB(t, [11]interface{}{
		"upstream-1", now.Unix(), now.Add(time.Hour).Unix(), "Show", "", "", "[]", "", "", "",
	})
	channels := []Channel{{EPGID: "ch1.local", DisplayName: "C", EPGOffsetMinutes: 60}}
	sources := []SourceRef{{SourceID: "src1", DBPath: dbPath}}
	resolve := func(sourceID, epgID string) (ResolvedChannel, bool, error) {
		return ResolvedChannel{SourceID: "src1", ChannelID: "upstream-1"}, true, nil
	}

	var buf bytes.Buffer
	err := Write(&buf, channels, sources, resolve, Window{From: now.Add(-time.Hour), To: now.Add(24 * time.Hour)})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	shifted := `start="` + now.Add(time.Hour).Format("20060102150405 +0000") +
		`" stop="` + now.Add(2*time.Hour).Format("20060102150405 +0000") + `"`
	if !strings.Contains(buf.String(), shifted) {
		t.Errorf("expected start shifted by epg_offset to %s:\n%s", shifted, buf.String())
	}
}

func TestDecodeCategories(t *testing.T) {
	cases := map[string][]string{
		"[]":               nil,
		`["News"]`:         {"News"},
		`["News","Sport"]`: {"News", "Sport"},
		"":                 nil,
	}
	for in, want := range cases {
		got := decodeCategories(in)
		if len(got) != len(want) {
			t.Errorf("decodeCategories(%q) = %v, want %v", in, got, want)
			continue
		}
		for i := range got {
			if got[i] != want[i] {
				t.Errorf("decodeCategories(%q)[%d] = %q, want %q", in, i, got[i], want[i])
			}
		}
	}
}
