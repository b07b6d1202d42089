package catalogdb

import (
	"context"
	"testing"
	"time"

	"github.com/snapetech/stalkerproxy/internal/normalize"
	"github.com/snapetech/stalkerproxy/internal/portal"
	"github.com/snapetech/stalkerproxy/internal/portalerr"
)

// fakeFetcher is a scripted ChannelFetcher keyed by MAC address, used to
// drive RefreshPortal without a real portal.
type fakeFetcher struct {
	mac       string
	genres    []portal.Genre
	channels  []portal.RawChannel
	err       error
	callCount *int
}

func (f *fakeFetcher) GetGenres(ctx context.Context) ([]portal.Genre, error) {
	return f.genres, nil
}

func (f *fakeFetcher) GetAllChannels(ctx context.Context) ([]portal.RawChannel, error) {
	if f.callCount != nil {
		*f.callCount++
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.channels, nil
}

func newTestPortalWithMAC(t *testing.T, s *Store, portalID, mac string) {
	t.Helper()
	if err := s.UpsertPortal(Portal{PortalID: portalID, Name: "Test Portal", URL: "http://example.com"}); err != nil {
		t.Fatalf("UpsertPortal: %v", err)
	}
	if err := s.UpsertMAC(MAC{PortalID: portalID, MACAddress: mac, WatchdogTimeoutSeconds: 900, PlaybackLimit: 1}); err != nil {
		t.Fatalf("UpsertMAC: %v", err)
	}
}

func TestRefreshPortal_insertsNewChannels(t *testing.T) {
	s := openTestStore(t)
	newTestPortalWithMAC(t, s, "p1", "00:11:22:33:44:55")

	channels := []portal.RawChannel{
		{ChannelID: "c1", Name: "BBC One", GenreID: "g1", Cmd: "ffmpeg http://x/1.m3u8"},
		{ChannelID: "c2", Name: "CNN", GenreID: "g1", Cmd: "ffmpeg http://x/2.m3u8"},
	}
	genres := []portal.Genre{{GenreID: "g1", Name: "News"}}

	newClient := func(m MAC) (ChannelFetcher, error) {
		return &fakeFetcher{mac: m.MACAddress, genres: genres, channels: channels}, nil
	}

	summary, err := s.RefreshPortal(context.Background(), "p1", newClient, nil, nil, 0, time.Hour, time.Now(), nil)
	if err != nil {
		t.Fatalf("RefreshPortal: %v", err)
	}
	if summary.ChannelsSeen != 2 || summary.ChannelsChanged != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	got, err := s.EnabledChannels("p1")
	if err != nil {
		t.Fatalf("EnabledChannels: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 enabled channels, got %d", len(got))
	}
}

func TestRefreshPortal_hashUnchangedSkipsReextraction(t *testing.T) {
	s := openTestStore(t)
	newTestPortalWithMAC(t, s, "p1", "00:11:22:33:44:55")

	channels := []portal.RawChannel{{ChannelID: "c1", Name: "BBC One", GenreID: "g1", Cmd: "ffmpeg http://x/1.m3u8"}}
	genres := []portal.Genre{{GenreID: "g1", Name: "News"}}
	newClient := func(m MAC) (ChannelFetcher, error) {
		return &fakeFetcher{genres: genres, channels: channels}, nil
	}

	rules := []normalize.Rule{}
	if _, err := s.RefreshPortal(context.Background(), "p1", newClient, rules, nil, 0, time.Hour, time.Now(), nil); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	summary, err := s.RefreshPortal(context.Background(), "p1", newClient, rules, nil, 0, time.Hour, time.Now(), nil)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if summary.ChannelsChanged != 0 {
		t.Fatalf("expected no re-extraction on unchanged hash, got %d changed", summary.ChannelsChanged)
	}
}

func TestRefreshPortal_softDeletesMissingThenHardDeletesAfterTTL(t *testing.T) {
	s := openTestStore(t)
	newTestPortalWithMAC(t, s, "p1", "00:11:22:33:44:55")

	full := []portal.RawChannel{
		{ChannelID: "c1", Name: "BBC One", GenreID: "g1", Cmd: "ffmpeg http://x/1.m3u8"},
		{ChannelID: "c2", Name: "CNN", GenreID: "g1", Cmd: "ffmpeg http://x/2.m3u8"},
	}
	genres := []portal.Genre{{GenreID: "g1", Name: "News"}}
	t0 := time.Now()

	newClientFull := func(m MAC) (ChannelFetcher, error) {
		return &fakeFetcher{genres: genres, channels: full}, nil
	}
	if _, err := s.RefreshPortal(context.Background(), "p1", newClientFull, nil, nil, 0, time.Hour, t0, nil); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}

	partial := full[:1] // c2 disappears
	newClientPartial := func(m MAC) (ChannelFetcher, error) {
		return &fakeFetcher{genres: genres, channels: partial}, nil
	}
	t1 := t0.Add(time.Minute)
	summary, err := s.RefreshPortal(context.Background(), "p1", newClientPartial, nil, nil, 0, time.Hour, t1, nil)
	if err != nil {
		t.Fatalf("refresh after disappearance: %v", err)
	}
	if summary.ChannelsSoftDeleted != 1 {
		t.Fatalf("expected 1 soft delete, got %d", summary.ChannelsSoftDeleted)
	}
	c2, found, err := s.Channel("p1", "c2")
	if err != nil || !found {
		t.Fatalf("expected c2 retained during TTL, found=%v err=%v", found, err)
	}
	if c2.Enabled {
		t.Fatalf("expected c2 disabled after soft delete")
	}

	t2 := t0.Add(2 * time.Hour)
	summary, err = s.RefreshPortal(context.Background(), "p1", newClientPartial, nil, nil, 0, time.Hour, t2, nil)
	if err != nil {
		t.Fatalf("refresh past ttl: %v", err)
	}
	if summary.ChannelsHardDeleted != 1 {
		t.Fatalf("expected 1 hard delete past ttl, got %d", summary.ChannelsHardDeleted)
	}
	_, found, err = s.Channel("p1", "c2")
	if err != nil {
		t.Fatalf("Channel: %v", err)
	}
	if found {
		t.Fatalf("expected c2 hard-deleted past ttl")
	}
}

func TestRefreshPortal_reappearPreservesPriorEnabledState(t *testing.T) {
	s := openTestStore(t)
	newTestPortalWithMAC(t, s, "p1", "00:11:22:33:44:55")
	genres := []portal.Genre{{GenreID: "g1", Name: "News"}}
	ch := portal.RawChannel{ChannelID: "c1", Name: "BBC One", GenreID: "g1", Cmd: "ffmpeg http://x/1.m3u8"}

	withChannel := func(m MAC) (ChannelFetcher, error) {
		return &fakeFetcher{genres: genres, channels: []portal.RawChannel{ch}}, nil
	}
	withoutChannel := func(m MAC) (ChannelFetcher, error) {
		return &fakeFetcher{genres: genres, channels: nil}, nil
	}

	t0 := time.Now()
	if _, err := s.RefreshPortal(context.Background(), "p1", withChannel, nil, nil, 0, time.Hour, t0, nil); err != nil {
		t.Fatalf("initial refresh: %v", err)
	}
	// Operator manually disables the channel before it ever disappears.
	if err := s.db.QueryRow(`SELECT 1`).Scan(new(int)); err != nil {
		t.Fatalf("sanity query: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE channels SET enabled = 0 WHERE portal_id = ? AND channel_id = ?`, "p1", "c1"); err != nil {
		t.Fatalf("manual disable: %v", err)
	}

	t1 := t0.Add(time.Minute)
	if _, err := s.RefreshPortal(context.Background(), "p1", withoutChannel, nil, nil, 0, time.Hour, t1, nil); err != nil {
		t.Fatalf("refresh disappearance: %v", err)
	}

	t2 := t1.Add(time.Minute)
	if _, err := s.RefreshPortal(context.Background(), "p1", withChannel, nil, nil, 0, time.Hour, t2, nil); err != nil {
		t.Fatalf("refresh reappearance: %v", err)
	}
	c, found, err := s.Channel("p1", "c1")
	if err != nil || !found {
		t.Fatalf("expected channel present, found=%v err=%v", found, err)
	}
	if c.Enabled {
		t.Fatalf("expected reappeared channel to keep its manually-disabled state")
	}
}

func TestRefreshPortal_wholeListingUnreachableDoesNotAffectAvailability(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpsertPortal(Portal{PortalID: "p1", Name: "P", URL: "http://x"}); err != nil {
		t.Fatalf("UpsertPortal: %v", err)
	}
	if err := s.UpsertMAC(MAC{PortalID: "p1", MACAddress: "AA:AA:AA:AA:AA:AA", WatchdogTimeoutSeconds: 900, PlaybackLimit: 1}); err != nil {
		t.Fatalf("UpsertMAC A: %v", err)
	}
	if err := s.UpsertMAC(MAC{PortalID: "p1", MACAddress: "BB:BB:BB:BB:BB:BB", WatchdogTimeoutSeconds: 900, PlaybackLimit: 1}); err != nil {
		t.Fatalf("UpsertMAC B: %v", err)
	}

	genres := []portal.Genre{{GenreID: "g1", Name: "News"}}
	ch := []portal.RawChannel{{ChannelID: "c1", Name: "BBC One", GenreID: "g1", Cmd: "ffmpeg http://x/1.m3u8"}}

	newClient := func(m MAC) (ChannelFetcher, error) {
		if m.MACAddress == "BB:BB:BB:BB:BB:BB" {
			return &fakeFetcher{genres: genres, err: portalerr.New(portalerr.KindUnreachable, "p1", "get_all_channels", nil)}, nil
		}
		return &fakeFetcher{genres: genres, channels: ch}, nil
	}

	summary, err := s.RefreshPortal(context.Background(), "p1", newClient, nil, nil, 0, time.Hour, time.Now(), nil)
	if err != nil {
		t.Fatalf("RefreshPortal: %v", err)
	}
	if len(summary.MACsSkipped) != 1 || summary.MACsSkipped[0] != "BB:BB:BB:BB:BB:BB" {
		t.Fatalf("expected B skipped, got %v", summary.MACsSkipped)
	}
	macs, err := s.AvailableMACs("p1", "c1")
	if err != nil {
		t.Fatalf("AvailableMACs: %v", err)
	}
	if len(macs) != 1 || macs[0] != "AA:AA:AA:AA:AA:AA" {
		t.Fatalf("expected only A available, got %v", macs)
	}
}
