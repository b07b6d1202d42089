package epg

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/snapetech/stalkerproxy/internal/catalogdb"
	"github.com/snapetech/stalkerproxy/internal/httpclient"
)

// SourceStore is the slice of catalogdb.Store the Manager needs, so tests
// can substitute a fake without a real database.
type SourceStore interface {
	UpsertEPGSource(src catalogdb.EPGSource) error
	TouchEPGSource(sourceID string, fetchedAt, refreshedAt *time.Time) error
	ReplaceEPGChannels(sourceID string, channels []catalogdb.EPGChannel) error
}

// Logf matches the rest of the codebase's injected-logger convention.
type Logf func(format string, args ...interface{})

// Manager owns one per-source refresh pipeline: fetch, two-pass parse,
// channel directory replace in the catalog DB, and programme replace in a
// dedicated per-source SQLite file. Refreshes are serialized per source_id
// (a second call for the same source while one is in flight waits for it,
// then runs its own fetch; results are not shared) and bounded by a global
// concurrency cap, the way the teacher's supervisor bounds concurrent child
// tasks.
type Manager struct {
	store     SourceStore
	client    *http.Client
	dbPathFor func(sourceID string) string
	retention time.Duration
	globalSem chan struct{}
	logf      Logf

	mu       sync.Mutex
	inFlight map[string]*sync.Mutex
}

// NewManager builds a Manager. concurrency bounds how many sources refresh
// at once across the whole process; dbPathFor is typically
// (*config.Config).EPGSourceDBPath.
func NewManager(store SourceStore, dbPathFor func(sourceID string) string, retention time.Duration, concurrency int, logf Logf) *Manager {
	if concurrency < 1 {
		concurrency = 1
	}
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return &Manager{
		store:     store,
		client:    httpclient.Default(),
		dbPathFor: dbPathFor,
		retention: retention,
		globalSem: make(chan struct{}, concurrency),
		logf:      logf,
		inFlight:  map[string]*sync.Mutex{},
	}
}

// RefreshResult summarizes one source refresh.
type RefreshResult struct {
	SourceID          string
	ChannelsSeen      int
	ProgrammesWritten int
	ProgrammesPruned  int64
	ParseErrors       int
}

// RefreshSource fetches and ingests one EPG source. A second caller asking
// for the same source_id while a refresh is already running blocks until it
// finishes, then performs its own fetch and ingest; the first refresh's
// result is not shared with it.
func (m *Manager) RefreshSource(ctx context.Context, src catalogdb.EPGSource) (RefreshResult, error) {
	lock := m.lockFor(src.SourceID)
	lock.Lock()
	defer lock.Unlock()

	select {
	case m.globalSem <- struct{}{}:
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	}
	defer func() { <-m.globalSem }()

	now := time.Now()
	path, cleanup, err := fetchToTempFile(ctx, m.client, src.URL)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("epg: refresh %s: %w", src.SourceID, err)
	}
	defer cleanup()

	channels, err := parseChannels(path)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("epg: refresh %s: parse channels: %w", src.SourceID, err)
	}
	dbChannels := make([]catalogdb.EPGChannel, 0, len(channels))
	for _, c := range channels {
		var display string
		if len(c.DisplayNames) > 0 {
			display = c.DisplayNames[0]
		}
		dbChannels = append(dbChannels, catalogdb.EPGChannel{
			SourceID:    src.SourceID,
			ChannelID:   c.ID,
			DisplayName: display,
			Icon:        c.Icon,
			LCN:         c.LCN,
			AltNames:    c.DisplayNames,
		})
	}
	if err := m.store.ReplaceEPGChannels(src.SourceID, dbChannels); err != nil {
		return RefreshResult{}, fmt.Errorf("epg: refresh %s: store channels: %w", src.SourceID, err)
	}

	dbPath := m.dbPathFor(src.SourceID)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return RefreshResult{}, fmt.Errorf("epg: refresh %s: prepare programme db: %w", src.SourceID, err)
	}
	pstore, err := openProgrammeStore(dbPath)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("epg: refresh %s: %w", src.SourceID, err)
	}
	defer pstore.Close()

	parseErrors := 0
	onParseError := func(err error) {
		parseErrors++
		m.logf("epg: %s: skipping malformed programme: %v", src.SourceID, err)
	}
	written, err := pstore.replaceAll(path, onParseError)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("epg: refresh %s: store programmes: %w", src.SourceID, err)
	}
	pruned, err := pstore.pruneExpired(m.retention, now)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("epg: refresh %s: prune programmes: %w", src.SourceID, err)
	}

	refreshedAt := now
	if err := m.store.TouchEPGSource(src.SourceID, &now, &refreshedAt); err != nil {
		m.logf("epg: %s: failed to record refresh timestamp: %v", src.SourceID, err)
	}

	return RefreshResult{
		SourceID:          src.SourceID,
		ChannelsSeen:      len(dbChannels),
		ProgrammesWritten: written,
		ProgrammesPruned:  pruned,
		ParseErrors:       parseErrors,
	}, nil
}

func (m *Manager) lockFor(sourceID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.inFlight[sourceID]
	if !ok {
		l = &sync.Mutex{}
		m.inFlight[sourceID] = l
	}
	return l
}
