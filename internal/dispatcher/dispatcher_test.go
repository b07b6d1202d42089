package dispatcher

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/snapetech/stalkerproxy/internal/catalogdb"
)

func TestCandidateMACs_intersectsAvailable(t *testing.T) {
	macs := []catalogdb.MAC{
		{MACAddress: "mac-1"},
		{MACAddress: "mac-2"},
		{MACAddress: "mac-3"},
	}
	got := candidateMACs(macs, []string{"mac-2", "mac-3", "mac-9"})
	if len(got) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %#v", len(got), got)
	}
	seen := map[string]bool{}
	for _, m := range got {
		seen[m.MACAddress] = true
	}
	if !seen["mac-2"] || !seen["mac-3"] {
		t.Fatalf("expected mac-2 and mac-3, got %#v", got)
	}
}

func TestIsClientDisconnect(t *testing.T) {
	if !isClientDisconnect(context.Canceled) {
		t.Fatal("expected context.Canceled to be a client disconnect")
	}
	if isClientDisconnect(errors.New("some other failure")) {
		t.Fatal("expected an unrelated error not to be treated as a disconnect")
	}
}

type fakeStore struct {
	channel catalogdb.Channel
	macs    []catalogdb.MAC
}

func (f *fakeStore) Channel(portalID, channelID string) (catalogdb.Channel, bool, error) {
	return f.channel, true, nil
}

func (f *fakeStore) MACsForPortal(portalID string) ([]catalogdb.MAC, error) {
	return f.macs, nil
}

func (f *fakeStore) UpsertMAC(m catalogdb.MAC) error {
	for i, existing := range f.macs {
		if existing.MACAddress == m.MACAddress {
			f.macs[i] = m
			return nil
		}
	}
	return nil
}

type fakeClient struct{}

func (fakeClient) GetToken(ctx context.Context) (string, error) { return "tok", nil }
func (fakeClient) GetProfile(ctx context.Context) (ProfileResult, error) {
	return ProfileResult{WatchdogTimeoutSeconds: 30, PlaybackLimit: 1}, nil
}
func (fakeClient) GetLink(ctx context.Context, channelID, cmd string) (string, error) {
	return "http://example.invalid/stream", nil
}

// writeFakeFFmpeg writes a shell script standing in for ffmpeg: it ignores
// its arguments and just does what the test needs (emit bytes then exit, or
// hang past the startup grace).
func writeFakeFFmpeg(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg script is POSIX-shell only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-ffmpeg.sh")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

func newTestDispatcher(ffmpegPath string, store CatalogStore) *Dispatcher {
	d := New(store, func(portalID string, mac catalogdb.MAC) (StreamClient, error) {
		return fakeClient{}, nil
	}, ffmpegPath)
	d.StartupGrace = 200 * time.Millisecond
	d.KillGrace = 500 * time.Millisecond
	return d
}

func TestPlay_successRelaysBytesAndReturnsNil(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `printf 'hello-ts-bytes'; sleep 0.05`)
	store := &fakeStore{
		channel: catalogdb.Channel{PortalID: "p1", ChannelID: "c1", Name: "Ch1", AvailableMACs: []string{"mac-1"}},
		macs:    []catalogdb.MAC{{PortalID: "p1", MACAddress: "mac-1", PlaybackLimit: 1}},
	}
	d := newTestDispatcher(ffmpeg, store)

	rec := httptest.NewRecorder()
	err := d.Play(context.Background(), rec, "p1", "c1", "1.2.3.4")
	if err != nil {
		t.Fatalf("Play returned error: %v", err)
	}
	if rec.Body.String() != "hello-ts-bytes" {
		t.Fatalf("relayed body = %q, want %q", rec.Body.String(), "hello-ts-bytes")
	}
	if got := d.Sessions.Count(); got != 0 {
		t.Fatalf("expected session released after Play returns, got count=%d", got)
	}
}

func TestPlay_startupTimeoutExhaustsCandidates(t *testing.T) {
	ffmpeg := writeFakeFFmpeg(t, `sleep 5`)
	store := &fakeStore{
		channel: catalogdb.Channel{PortalID: "p1", ChannelID: "c1", Name: "Ch1", AvailableMACs: []string{"mac-1"}},
		macs:    []catalogdb.MAC{{PortalID: "p1", MACAddress: "mac-1", PlaybackLimit: 1}},
	}
	d := newTestDispatcher(ffmpeg, store)
	d.StartupGrace = 100 * time.Millisecond
	d.KillGrace = 200 * time.Millisecond

	rec := httptest.NewRecorder()
	err := d.Play(context.Background(), rec, "p1", "c1", "1.2.3.4")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted after startup-grace timeout, got %v", err)
	}
	if got := d.Sessions.Count(); got != 0 {
		t.Fatalf("expected no lingering sessions after exhaustion, got %d", got)
	}
}

func TestPlay_noCandidateMACsReturnsExhausted(t *testing.T) {
	store := &fakeStore{
		channel: catalogdb.Channel{PortalID: "p1", ChannelID: "c1", AvailableMACs: []string{"mac-9"}},
		macs:    []catalogdb.MAC{{PortalID: "p1", MACAddress: "mac-1", PlaybackLimit: 1}},
	}
	d := newTestDispatcher("/bin/true", store)
	rec := httptest.NewRecorder()
	err := d.Play(context.Background(), rec, "p1", "c1", "1.2.3.4")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted when no candidate mac intersects available_macs, got %v", err)
	}
}
