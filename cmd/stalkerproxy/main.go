// Command stalkerproxy republishes one or more Stalker/MAC IPTV portals as a
// single M3U + XMLTV feed and proxies their live streams, failing over
// across a portal's configured MACs per request. Grounded on the teacher's
// cmd/plex-tuner/main.go (flag parsing, catalog load, mux wiring, signal
// shutdown) but wired to this module's own components instead of the
// teacher's M3U/Xtream indexer and HDHomeRun surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/snapetech/stalkerproxy/internal/catalogdb"
	"github.com/snapetech/stalkerproxy/internal/config"
	"github.com/snapetech/stalkerproxy/internal/configstore"
	"github.com/snapetech/stalkerproxy/internal/dispatcher"
	"github.com/snapetech/stalkerproxy/internal/epg"
	"github.com/snapetech/stalkerproxy/internal/health"
	"github.com/snapetech/stalkerproxy/internal/httpapi"
	"github.com/snapetech/stalkerproxy/internal/logging"
	"github.com/snapetech/stalkerproxy/internal/match"
	"github.com/snapetech/stalkerproxy/internal/normalize"
	"github.com/snapetech/stalkerproxy/internal/portal"
	"github.com/snapetech/stalkerproxy/internal/schedulercore"
)

func main() {
	envFile := flag.String("env", ".env", "path to a .env file (optional)")
	matchFloor := flag.Float64("match-floor", match.DefaultFloor, "minimum similarity score for an automatic match (§4.D)")
	softDeleteTTL := flag.Duration("soft-delete-ttl", 72*time.Hour, "how long a channel missing from a portal listing stays soft-deleted before hard delete (§4.B)")
	flag.Parse()

	_ = config.LoadEnvFile(*envFile)
	cfg := config.Load()

	if err := logging.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "stalkerproxy: %v\n", err)
		os.Exit(1)
	}
	defer logging.Close()

	cstore, err := configstore.Open(cfg.ConfigPath)
	if err != nil {
		logging.Errorf("stalkerproxy: open configstore: %v", err)
		os.Exit(1)
	}

	store, err := catalogdb.Open(cfg.DBPath)
	if err != nil {
		logging.Errorf("stalkerproxy: open catalog db: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	directory, err := match.LoadExternalDirectory(match.ExternalSources{
		IPTVOrgPath:         cfg.IPTVOrgPath,
		DVBPath:             cfg.DVBPath,
		GracenotePath:       cfg.GracenotePath,
		SchedulesDirectPath: cfg.SchedulesDirectPath,
	})
	if err != nil {
		logging.Errorf("stalkerproxy: load match directory: %v", err)
		os.Exit(1)
	}
	logging.Infof("stalkerproxy: match directory loaded entries=%d", len(directory.Entries))

	rules := defaultNormalizeRules()

	epgManager := epg.NewManager(store, cfg.EPGSourceDBPath, 14*24*time.Hour, 4, logging.Infof)

	disp := dispatcher.New(store, portalClientFactory(cstore), cfg.FFmpegPath)
	disp.Logf = logging.Warnf

	sched := schedulercore.New(
		cstore.EnabledPortalIDs,
		enabledEPGSourceIDs(store),
		catalogRefreshFunc(store, cstore, directory, rules, *matchFloor, *softDeleteTTL),
		epgRefreshFunc(store, epgManager),
		cfg.ChannelRefreshInterval,
		cfg.EPGRefreshInterval,
		logging.Infof,
	)

	server := httpapi.New(store, disp, sched, cfg.EPGSourceDBPath, publicHostFunc(cfg))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindHost, cfg.Port),
		Handler: server,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	go func() {
		logging.Infof("stalkerproxy: listening addr=%s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("stalkerproxy: http: %v", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logging.Infof("stalkerproxy: shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
	cancel()
}

// defaultNormalizeRules is the stock tag-extraction rule set applied to
// every portal that has auto_normalize on; no per-portal rule set is read
// from config.json. The set is intentionally small: resolution, video codec
// and audio layout markers.
func defaultNormalizeRules() []normalize.Rule {
	return []normalize.Rule{
		{TagGroup: normalize.GroupResolution, Pattern: regexp.MustCompile(`(?i)\b(4K|UHD|FHD|HD|SD)\b`)},
		{TagGroup: normalize.GroupCodec, Pattern: regexp.MustCompile(`(?i)\b(H265|HEVC|H264|X264)\b`)},
		{TagGroup: normalize.GroupAudio, Pattern: regexp.MustCompile(`(?i)\b(5\.1|2\.0|DD5\.1)\b`)},
	}
}

// publicHostFunc resolves the host used to build playlist URLs: the
// configured PUBLIC_HOST, falling back to the request's own Host header so
// a single binary works behind any reverse proxy without configuration.
func publicHostFunc(cfg *config.Config) func(r *http.Request) string {
	return func(r *http.Request) string {
		if cfg.PublicHost != "" {
			return cfg.PublicHost
		}
		return r.Host
	}
}

// portalClientFactory builds a dispatcher.ClientFactory bound to
// configstore, so each playback attempt gets a fresh *portal.Client
// carrying that portal's configured proxy per spec §3's "short-lived,
// constructed per call" Portal Client lifetime. The timezone is passed
// empty: configstore.Portal has no timezone field.
func portalClientFactory(cstore *configstore.Store) dispatcher.ClientFactory {
	return func(portalID string, mac catalogdb.MAC) (dispatcher.StreamClient, error) {
		p, ok := cstore.Portal(portalID)
		if !ok {
			return nil, fmt.Errorf("stalkerproxy: unknown portal %s", portalID)
		}
		client, err := portal.New(portalID, p.URL, mac.MACAddress, "", p.Proxy, 10*time.Second)
		if err != nil {
			return nil, err
		}
		return clientAdapter{client}, nil
	}
}

// clientAdapter narrows *portal.Client to dispatcher.StreamClient, folding
// portal.Profile into dispatcher.ProfileResult so the dispatcher package
// never imports portal directly.
type clientAdapter struct{ c *portal.Client }

func (a clientAdapter) GetToken(ctx context.Context) (string, error) {
	return a.c.GetToken(ctx)
}

func (a clientAdapter) GetProfile(ctx context.Context) (dispatcher.ProfileResult, error) {
	p, err := a.c.GetProfile(ctx)
	if err != nil {
		return dispatcher.ProfileResult{}, err
	}
	return dispatcher.ProfileResult{
		WatchdogTimeoutSeconds: p.WatchdogTimeoutSeconds,
		PlaybackLimit:          p.PlaybackLimit,
	}, nil
}

func (a clientAdapter) GetLink(ctx context.Context, channelID, cmd string) (string, error) {
	return a.c.GetLink(ctx, channelID, cmd)
}

// catalogRefreshFunc adapts catalogdb.Store.RefreshPortal to the scheduler
// core's CatalogRefreshFunc shape, building a fresh portal client per MAC
// the refresh needs (the refresh protocol itself picks which MACs to try).
func catalogRefreshFunc(store *catalogdb.Store, cstore *configstore.Store, directory *match.Directory, rules []normalize.Rule, matchFloor float64, ttl time.Duration) schedulercore.CatalogRefreshFunc {
	return func(ctx context.Context, portalID string) error {
		p, ok := cstore.Portal(portalID)
		if !ok || !p.Enabled {
			return nil
		}
		if err := health.CheckPortal(ctx, p.URL); err != nil {
			logging.Warnf("stalkerproxy: portal=%s unreachable, skipping refresh: %v", portalID, err)
			return nil
		}
		newClient := func(mac catalogdb.MAC) (catalogdb.ChannelFetcher, error) {
			return portal.New(portalID, p.URL, mac.MACAddress, "", p.Proxy, 10*time.Second)
		}
		effectiveRules := rules
		if !p.AutoNormalizeNames {
			effectiveRules = nil
		}
		effectiveDirectory := directory
		if !p.AutoMatch {
			effectiveDirectory = nil
		}
		summary, err := store.RefreshPortal(ctx, portalID, newClient, effectiveRules, effectiveDirectory, matchFloor, ttl, time.Now(), logging.Infof)
		if err != nil {
			return err
		}
		logging.Infof("stalkerproxy: refresh portal=%s seen=%d changed=%d soft_deleted=%d hard_deleted=%d skipped_macs=%v",
			portalID, summary.ChannelsSeen, summary.ChannelsChanged, summary.ChannelsSoftDeleted, summary.ChannelsHardDeleted, summary.MACsSkipped)
		return nil
	}
}

func epgRefreshFunc(store *catalogdb.Store, mgr *epg.Manager) schedulercore.EPGRefreshFunc {
	return func(ctx context.Context, sourceID string) error {
		sources, err := store.EnabledEPGSources()
		if err != nil {
			return err
		}
		for _, src := range sources {
			if src.SourceID != sourceID {
				continue
			}
			_, err := mgr.RefreshSource(ctx, src)
			return err
		}
		return nil
	}
}

func enabledEPGSourceIDs(store *catalogdb.Store) func() []string {
	return func() []string {
		sources, err := store.EnabledEPGSources()
		if err != nil {
			logging.Errorf("stalkerproxy: list epg sources: %v", err)
			return nil
		}
		ids := make([]string, 0, len(sources))
		for _, s := range sources {
			ids = append(ids, s.SourceID)
		}
		return ids
	}
}
