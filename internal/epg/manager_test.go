package epg

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/snapetech/stalkerproxy/internal/catalogdb"
)

type fakeSourceStore struct {
	mu       sync.Mutex
	channels map[string][]catalogdb.EPGChannel
	touched  int
}

func newFakeSourceStore() *fakeSourceStore {
	return &fakeSourceStore{channels: map[string][]catalogdb.EPGChannel{}}
}

func (f *fakeSourceStore) UpsertEPGSource(src catalogdb.EPGSource) error { return nil }

func (f *fakeSourceStore) TouchEPGSource(sourceID string, fetchedAt, refreshedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched++
	return nil
}

func (f *fakeSourceStore) ReplaceEPGChannels(sourceID string, channels []catalogdb.EPGChannel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[sourceID] = channels
	return nil
}

func TestManager_RefreshSource_endToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<tv>
			<channel id="ch1"><display-name>Channel One</display-name></channel>
			<programme channel="ch1" start="20260101180000 +0000" stop="20260101190000 +0000"><title>Show</title></programme>
		</tv>`))
	}))
	defer srv.Close()

	store := newFakeSourceStore()
	dir := t.TempDir()
	mgr := NewManager(store, func(sourceID string) string {
		return filepath.Join(dir, sourceID+".db")
	}, 24*time.Hour, 2, nil)

	src := catalogdb.EPGSource{SourceID: "src1", URL: srv.URL}
	res, err := mgr.RefreshSource(context.Background(), src)
	if err != nil {
		t.Fatalf("RefreshSource() error = %v", err)
	}
	if res.ChannelsSeen != 1 {
		t.Errorf("ChannelsSeen = %d, want 1", res.ChannelsSeen)
	}
	if res.ProgrammesWritten != 1 {
		t.Errorf("ProgrammesWritten = %d, want 1", res.ProgrammesWritten)
	}
	if store.touched != 1 {
		t.Errorf("TouchEPGSource called %d times, want 1", store.touched)
	}
	if len(store.channels["src1"]) != 1 {
		t.Errorf("stored channels = %v, want 1 entry", store.channels["src1"])
	}
}

func TestManager_RefreshSource_serializesConcurrentCallsForSameSource(t *testing.T) {
	var fetches int32Counter
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetches.inc()
		time.Sleep(20 * time.Millisecond)
		w.Write([]byte(`<tv><channel id="ch1"><display-name>C</display-name></channel></tv>`))
	}))
	defer srv.Close()

	store := newFakeSourceStore()
	dir := t.TempDir()
	mgr := NewManager(store, func(sourceID string) string {
		return filepath.Join(dir, sourceID+".db")
	}, time.Hour, 4, nil)

	src := catalogdb.EPGSource{SourceID: "src1", URL: srv.URL}
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.RefreshSource(context.Background(), src); err != nil {
				t.Errorf("RefreshSource() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := fetches.get(); got != 3 {
		t.Errorf("server saw %d fetches, want 3 (serialized, not deduplicated, but never overlapping)", got)
	}
}

type int32Counter struct {
	mu sync.Mutex
	n  int
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *int32Counter) get() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
