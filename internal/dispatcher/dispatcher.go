// Package dispatcher implements component I, the Stream Dispatcher: the
// per-request state machine (ACCEPTED -> PIPING -> FAILOVER -> ERRORED /
// CLOSED) that acquires a portal token, resolves a stream link through the
// MAC the Scheduler picked, spawns FFmpeg to relay HLS as MPEG-TS, and tears
// the child down when the client disconnects. Grounded on the teacher's
// internal/tuner/gateway.go relayHLSWithFFmpeg (StdoutPipe + io.Copy to the
// response, isClientDisconnectWriteError) but restructured around the
// spec's explicit MAC failover loop instead of a single fixed stream.
package dispatcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/snapetech/stalkerproxy/internal/catalogdb"
	"github.com/snapetech/stalkerproxy/internal/logging"
	"github.com/snapetech/stalkerproxy/internal/macscheduler"
	"github.com/snapetech/stalkerproxy/internal/portalerr"
)

// Defaults from spec §4.I / §5.
const (
	DefaultStartupGrace = 3 * time.Second
	DefaultKillGrace    = 5 * time.Second
)

// StreamClient is the slice of *portal.Client the Dispatcher needs for one
// playback attempt, kept as an interface so tests can substitute a fake
// without standing up a real portal.
type StreamClient interface {
	GetToken(ctx context.Context) (string, error)
	GetProfile(ctx context.Context) (ProfileResult, error)
	GetLink(ctx context.Context, channelID, cmd string) (string, error)
}

// ProfileResult mirrors portal.Profile without importing the portal package,
// so dispatcher stays decoupled from its HTTP/retry machinery.
type ProfileResult struct {
	WatchdogTimeoutSeconds int
	PlaybackLimit          int
}

// ClientFactory builds a StreamClient bound to one portal+MAC pair.
type ClientFactory func(portalID string, mac catalogdb.MAC) (StreamClient, error)

// CatalogStore is the slice of *catalogdb.Store the Dispatcher reads and
// opportunistically writes back to (profile refresh).
type CatalogStore interface {
	Channel(portalID, channelID string) (catalogdb.Channel, bool, error)
	MACsForPortal(portalID string) ([]catalogdb.MAC, error)
	UpsertMAC(m catalogdb.MAC) error
}

// Dispatcher owns the live session table and mediates every /play request.
type Dispatcher struct {
	Store       CatalogStore
	NewClient   ClientFactory
	Sessions    *SessionTable
	FFmpegPath  string
	StartupGrace time.Duration
	KillGrace    time.Duration
	Logf         func(format string, args ...interface{})
}

// New builds a Dispatcher with the spec's default grace periods.
func New(store CatalogStore, newClient ClientFactory, ffmpegPath string) *Dispatcher {
	return &Dispatcher{
		Store:        store,
		NewClient:    newClient,
		Sessions:     NewSessionTable(),
		FFmpegPath:   ffmpegPath,
		StartupGrace: DefaultStartupGrace,
		KillGrace:    DefaultKillGrace,
		Logf:         func(string, ...interface{}) {},
	}
}

// ErrExhausted is returned when every candidate MAC failed over; the HTTP
// surface converts this into a 502 with a short JSON body.
var ErrExhausted = errors.New("dispatcher: all candidate macs exhausted")

// Play runs the full ACCEPTED/PIPING/FAILOVER state machine for one playback
// request, writing MPEG-TS bytes directly to w. It returns once the session
// is CLOSED (client disconnect or clean FFmpeg exit) or ERRORED (MACs
// exhausted) — callers should not write to w after a non-nil error.
func (d *Dispatcher) Play(ctx context.Context, w http.ResponseWriter, portalID, channelID, clientIP string) error {
	ch, ok, err := d.Store.Channel(portalID, channelID)
	if err != nil {
		return fmt.Errorf("dispatcher: load channel: %w", err)
	}
	if !ok {
		return fmt.Errorf("dispatcher: channel %s/%s not found", portalID, channelID)
	}

	macs, err := d.Store.MACsForPortal(portalID)
	if err != nil {
		return fmt.Errorf("dispatcher: load macs: %w", err)
	}
	candidates := candidateMACs(macs, ch.AvailableMACs)

	now := time.Now()
	schedMACs := make([]macscheduler.MAC, 0, len(candidates))
	byAddr := make(map[string]catalogdb.MAC, len(candidates))
	for _, m := range candidates {
		schedMACs = append(schedMACs, macscheduler.MAC{
			Address:                m.MACAddress,
			WatchdogTimeoutSeconds: m.WatchdogTimeoutSeconds,
			PlaybackLimit:          m.PlaybackLimit,
			ExpiresAt:              m.ExpiresAt,
		})
		byAddr[m.MACAddress] = m
	}
	ordered := macscheduler.Select(schedMACs, d.Sessions.CountForMAC, now)

	if len(ordered) == 0 {
		return ErrExhausted
	}

	for _, sm := range ordered {
		mac := byAddr[sm.Address]
		outcome, err := d.tryMAC(ctx, w, portalID, ch, mac, clientIP)
		switch outcome {
		case outcomeSuccess:
			return nil
		case outcomeFatal:
			return err
		case outcomeRetryNext:
			d.Logf("dispatcher: portal=%s channel=%s mac=%s failover: %v", portalID, channelID, mac.MACAddress, err)
			continue
		}
	}
	return ErrExhausted
}

type tryOutcome int

const (
	outcomeRetryNext tryOutcome = iota
	outcomeSuccess
	outcomeFatal
)

// tryMAC implements one ACCEPTED->PIPING attempt against a single candidate
// MAC, per §9's "Dispatcher try_mac returns Success | RetryWithNext | Fatal".
func (d *Dispatcher) tryMAC(ctx context.Context, w http.ResponseWriter, portalID string, ch catalogdb.Channel, mac catalogdb.MAC, clientIP string) (tryOutcome, error) {
	limit := mac.PlaybackLimit
	if limit <= 0 {
		limit = 1
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess, ok := d.Sessions.Reserve(portalID, portalID, ch.ChannelID, ch.EffectiveDisplayName(), mac.MACAddress, clientIP, limit, cancel)
	if !ok {
		cancel()
		return outcomeRetryNext, fmt.Errorf("%w: mac=%s", portalerr.MACBusy, mac.MACAddress)
	}
	defer d.Sessions.Release(sess.ID)

	client, err := d.NewClient(portalID, mac)
	if err != nil {
		cancel()
		return outcomeRetryNext, err
	}

	if _, err := client.GetToken(sessCtx); err != nil {
		cancel()
		return outcomeRetryNext, err
	}
	if profile, err := client.GetProfile(sessCtx); err == nil {
		d.refreshMACProfile(mac, profile)
	}

	link, err := client.GetLink(sessCtx, ch.ChannelID, ch.Cmd)
	if err != nil {
		cancel()
		if errors.Is(err, portalerr.NoLink) {
			return outcomeRetryNext, err
		}
		var perr *portalerr.Error
		if errors.As(err, &perr) {
			return outcomeRetryNext, err
		}
		return outcomeRetryNext, err
	}

	err = d.pipe(sessCtx, w, link, sess)
	cancel()
	if err == nil {
		return outcomeSuccess, nil
	}
	if errors.Is(err, errStartupTimeout) {
		return outcomeRetryNext, err
	}
	if isClientDisconnect(err) {
		return outcomeSuccess, nil // clean CLOSED, nothing more to try
	}
	return outcomeSuccess, nil // PIPING started; post-grace failures don't failover (§4.I)
}

var errStartupTimeout = fmt.Errorf("%w", portalerr.StreamStartTimeout)

// pipe spawns FFmpeg against link and streams its stdout to w. It returns
// errStartupTimeout if no bytes arrived within StartupGrace (triggers
// FAILOVER); any other error after that point means the session is CLOSED,
// not failed over, per §4.I "Failures after startup grace terminate the
// session; the client sees EOF and is expected to reconnect."
func (d *Dispatcher) pipe(ctx context.Context, w http.ResponseWriter, link string, sess *Session) error {
	cmd := exec.CommandContext(ctx, d.FFmpegPath, buildFFmpegArgs(link)...)
	cmd.Stdin = nil
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("dispatcher: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("dispatcher: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("dispatcher: start ffmpeg: %w", err)
	}
	go d.logStderr(sess, stderr)

	firstByte := make(chan struct{})
	copyDone := make(chan error, 1)
	go func() {
		copyDone <- d.relay(w, stdout, sess, firstByte)
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	started := false
	timer := time.NewTimer(d.StartupGrace)
	defer timer.Stop()

	for {
		select {
		case <-firstByte:
			if !started {
				started = true
				if !timer.Stop() {
					<-timer.C
				}
			}
		case werr := <-waitDone:
			if !started {
				return errStartupTimeout
			}
			if cerr := <-copyDone; cerr != nil {
				return cerr
			}
			return werr
		case <-timer.C:
			if !started {
				d.killChild(cmd, waitDone)
				return errStartupTimeout
			}
		case cerr := <-copyDone:
			d.killChild(cmd, waitDone)
			return cerr
		case <-ctx.Done():
			d.killChild(cmd, waitDone)
			return ctx.Err()
		}
	}
}

// relay copies FFmpeg's stdout into the HTTP response, flushing per write so
// a slow client drains the kernel socket buffer rather than our own (§5:
// "backpressure... lets the kernel socket buffer do its job").
func (d *Dispatcher) relay(w http.ResponseWriter, r io.Reader, sess *Session, firstByte chan<- struct{}) error {
	flusher, _ := w.(http.Flusher)
	br := bufio.NewReaderSize(r, 64*1024)
	buf := make([]byte, 32*1024)
	signaled := false
	for {
		n, rerr := br.Read(buf)
		if n > 0 {
			if !signaled {
				signaled = true
				close(firstByte)
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			d.Sessions.AddBytes(sess.ID, int64(n))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return nil
			}
			return rerr
		}
	}
}

// killChild sends SIGTERM, then SIGKILL after KillGrace, matching §4.I's
// "send SIGTERM then SIGKILL after a grace period (default 5s)". waitDone is
// the single channel fed by the one goroutine calling cmd.Wait() in pipe;
// killChild only ever signals the process, never waits on it directly, so
// there is exactly one waiter for the child's exit status.
func (d *Dispatcher) killChild(cmd *exec.Cmd, waitDone <-chan error) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Signal(terminateSignal())
	timer := time.NewTimer(d.KillGrace)
	defer timer.Stop()
	select {
	case <-waitDone:
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-waitDone
	}
}

func (d *Dispatcher) logStderr(sess *Session, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		logging.Debugf("dispatcher: session=%s ffmpeg: %s", sess.ID, scanner.Text())
	}
}

func (d *Dispatcher) refreshMACProfile(mac catalogdb.MAC, profile ProfileResult) {
	mac.WatchdogTimeoutSeconds = profile.WatchdogTimeoutSeconds
	mac.PlaybackLimit = profile.PlaybackLimit
	now := time.Now()
	mac.LastProfileFetchAt = &now
	if err := d.Store.UpsertMAC(mac); err != nil {
		d.Logf("dispatcher: mac=%s profile refresh save failed: %v", mac.MACAddress, err)
	}
}

// candidateMACs narrows portal.macs to the ones reported available for this
// channel (§4.H "available_macs ∩ portal.macs").
func candidateMACs(macs []catalogdb.MAC, available []string) []catalogdb.MAC {
	allowed := make(map[string]bool, len(available))
	for _, a := range available {
		allowed[a] = true
	}
	out := make([]catalogdb.MAC, 0, len(macs))
	for _, m := range macs {
		if allowed[m.MACAddress] {
			out = append(out, m)
		}
	}
	return out
}

func isClientDisconnect(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe)
}

// HumanizeBytes renders a byte count the way dispatcher's own log lines do
// (raw bytes still go out over /streaming's JSON; logs get the humanized
// form), matching the teacher's promoted-to-direct go-humanize dependency.
func HumanizeBytes(n int64) string {
	return humanize.Bytes(uint64(n))
}
