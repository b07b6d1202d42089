package epg

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestProgrammeStore(t *testing.T) *programmeStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.db")
	s, err := openProgrammeStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestProgrammeStore_replaceAllInsertsAndCounts(t *testing.T) {
	store := openTestProgrammeStore(t)
	path := writeTempXML(t, `<tv>
	<programme channel="ch1" start="20260101180000 +0000" stop="20260101190000 +0000"><title>A</title></programme>
	<programme channel="ch1" start="20260101190000 +0000" stop="20260101200000 +0000"><title>B</title></programme>
</tv>`)

	n, err := store.replaceAll(path, nil)
	if err != nil {
		t.Fatalf("replaceAll() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("replaceAll() inserted %d rows, want 2", n)
	}

	var count int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM programmes").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("programmes table has %d rows, want 2", count)
	}
}

func TestProgrammeStore_replaceAllWipesPriorContent(t *testing.T) {
	store := openTestProgrammeStore(t)
	first := writeTempXML(t, `<tv><programme channel="ch1" start="20260101180000 +0000" stop="20260101190000 +0000"><title>Old</title></programme></tv>`)
	if _, err := store.replaceAll(first, nil); err != nil {
		t.Fatal(err)
	}

	second := writeTempXML(t, `<tv><programme channel="ch2" start="20260102180000 +0000" stop="20260102190000 +0000"><title>New</title></programme></tv>`)
	n, err := store.replaceAll(second, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("replaceAll() inserted %d rows, want 1", n)
	}

	var title string
	if err := store.db.QueryRow("SELECT title FROM programmes").Scan(&title); err != nil {
		t.Fatal(err)
	}
	if title != "New" {
		t.Errorf("surviving row title = %q, want New (old content should be wiped)", title)
	}
}

func TestProgrammeStore_pruneExpiredRemovesOldStopTimes(t *testing.T) {
	store := openTestProgrammeStore(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.db.Exec(`INSERT INTO programmes (channel_id, start_ts, stop_ts, title) VALUES
		('ch1', ?, ?, 'Expired'),
		('ch1', ?, ?, 'Current')`,
		now.Add(-48*time.Hour).Unix(), now.Add(-47*time.Hour).Unix(),
		now.Add(-1*time.Hour).Unix(), now.Add(1*time.Hour).Unix(),
	)
	if err != nil {
		t.Fatal(err)
	}

	removed, err := store.pruneExpired(24*time.Hour, now)
	if err != nil {
		t.Fatalf("pruneExpired() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("pruneExpired() removed %d rows, want 1", removed)
	}

	var title string
	if err := store.db.QueryRow("SELECT title FROM programmes").Scan(&title); err != nil {
		t.Fatal(err)
	}
	if title != "Current" {
		t.Errorf("surviving row = %q, want Current", title)
	}
}

func TestProgrammeStore_replaceAllSkipsMalformedEntries(t *testing.T) {
	store := openTestProgrammeStore(t)
	path := writeTempXML(t, `<tv>
	<programme channel="ch1" start="garbage" stop="20260101190000 +0000"><title>Bad</title></programme>
	<programme channel="ch1" start="20260101190000 +0000" stop="20260101200000 +0000"><title>Good</title></programme>
</tv>`)

	var errs int
	n, err := store.replaceAll(path, func(error) { errs++ })
	if err != nil {
		t.Fatalf("replaceAll() error = %v", err)
	}
	if n != 1 {
		t.Errorf("replaceAll() inserted %d rows, want 1", n)
	}
	if errs != 1 {
		t.Errorf("onParseError called %d times, want 1", errs)
	}
}
