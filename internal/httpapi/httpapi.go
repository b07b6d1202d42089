// Package httpapi implements component K, the HTTP Surface: the chi router
// that serves the public playlist/XMLTV/play endpoints and the admin JSON
// API, per §6's endpoint table. Grounded on the teacher's internal/tuner
// server wiring (chi.Router, JSON helpers, one handler method per route)
// but re-pointed at catalogdb/dispatcher/epg instead of the teacher's VOD
// gateway.
package httpapi

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/snapetech/stalkerproxy/internal/catalogdb"
	"github.com/snapetech/stalkerproxy/internal/dispatcher"
	"github.com/snapetech/stalkerproxy/internal/epg"
	"github.com/snapetech/stalkerproxy/internal/logging"
	"github.com/snapetech/stalkerproxy/internal/m3ugen"
	"github.com/snapetech/stalkerproxy/internal/schedulercore"
	"github.com/snapetech/stalkerproxy/internal/xmltvgen"
)

// CatalogStore is the slice of *catalogdb.Store the HTTP surface needs.
type CatalogStore interface {
	AllEnabledChannels() ([]catalogdb.Channel, error)
	EnabledChannels(portalID string) ([]catalogdb.Channel, error)
	Channel(portalID, channelID string) (catalogdb.Channel, bool, error)
	Portal(portalID string) (catalogdb.Portal, bool, error)
	PortalStatsFor(portalID string) (catalogdb.PortalStats, bool, error)
	GroupsForPortal(portalID string) ([]catalogdb.Group, error)
	SetGroupActive(portalID, genreID string, active bool) error
	DeleteMAC(portalID, mac string) error
	MACsForPortal(portalID string) ([]catalogdb.MAC, error)
	EnabledEPGSources() ([]catalogdb.EPGSource, error)
	ResolveEPGChannelID(sourceID, epgID string) (catalogdb.EPGChannel, bool, error)
}

// Server wires every route in §6's table. Construct with New and mount at
// the process root.
type Server struct {
	Store      CatalogStore
	Dispatcher *dispatcher.Dispatcher
	Scheduler  *schedulercore.Loop
	EPGDBPath  func(sourceID string) string
	PublicHost func(r *http.Request) string
	EPGWindow  time.Duration

	router chi.Router
}

// New builds a Server with its router assembled; call ServeHTTP (it
// satisfies http.Handler) or use Router() to mount onto another mux.
func New(store CatalogStore, disp *dispatcher.Dispatcher, sched *schedulercore.Loop, epgDBPath func(string) string, publicHost func(*http.Request) string) *Server {
	s := &Server{
		Store:      store,
		Dispatcher: disp,
		Scheduler:  sched,
		EPGDBPath:  epgDBPath,
		PublicHost: publicHost,
		EPGWindow:  14 * 24 * time.Hour,
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Router exposes the assembled router for tests and for mounting under a
// prefix.
func (s *Server) Router() chi.Router { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/playlist.m3u", s.handlePlaylist)
	r.Get("/xmltv", s.handleXMLTV)
	r.Get("/play/{portal_id}/{channel_id}", s.handlePlay)
	r.Get("/streaming", s.handleStreaming)

	r.Post("/api/portal/refresh", s.handlePortalRefresh)
	r.Post("/api/portal/refresh/status", s.handlePortalRefreshStatus)
	r.Post("/api/portal/mac/delete", s.handleMACDelete)
	r.Post("/api/portal/macs/refresh", s.handleMACsRefresh)
	r.Post("/api/portal/groups", s.handleGroups)
	r.Post("/api/portal/genres/list", s.handleGenresList)
	r.Post("/api/portal/genres", s.handleGenres)
	r.Post("/api/epg/refresh", s.handleEPGRefresh)
	r.Get("/api/epg/status", s.handleEPGStatus)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Infof("httpapi: method=%s path=%s remote=%s dur=%s", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}

// handlePlaylist serves GET /playlist.m3u (§6): every enabled channel
// across every portal, ordered by m3ugen (no de-duplication).
func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	channels, err := s.Store.AllEnabledChannels()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]m3ugen.Channel, 0, len(channels))
	for _, c := range channels {
		out = append(out, m3ugen.Channel{
			PortalID:    c.PortalID,
			ChannelID:   c.ChannelID,
			DisplayName: c.EffectiveDisplayName(),
			EPGID:       c.EffectiveEPGID(),
			Logo:        firstNonEmpty(c.MatchedLogo, c.Logo),
			Number:      c.EffectiveNumber(),
			Group:       c.EffectiveGenre(),
		})
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl; charset=utf-8")
	if err := m3ugen.Write(w, out, s.PublicHost(r)); err != nil {
		logging.Errorf("httpapi: write playlist: %v", err)
	}
}

// handleXMLTV serves GET /xmltv (§6): the merged guide across every
// enabled channel and configured EPG source. Supports Accept-Encoding:
// gzip per §4.F/§6.
func (s *Server) handleXMLTV(w http.ResponseWriter, r *http.Request) {
	channels, err := s.Store.AllEnabledChannels()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	sources, err := s.Store.EnabledEPGSources()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	epgOffsets := map[string]int{}
	xc := make([]xmltvgen.Channel, 0, len(channels))
	for _, c := range channels {
		offset, ok := epgOffsets[c.PortalID]
		if !ok {
			if p, found, perr := s.Store.Portal(c.PortalID); perr == nil && found {
				offset = p.EPGOffset
			}
			epgOffsets[c.PortalID] = offset
		}
		xc = append(xc, xmltvgen.Channel{
			EPGID:            c.EffectiveEPGID(),
			DisplayName:      c.EffectiveDisplayName(),
			Icon:             firstNonEmpty(c.MatchedLogo, c.Logo),
			LCN:              c.EffectiveNumber(),
			PortalID:         c.PortalID,
			ChannelID:        c.ChannelID,
			EPGOffsetMinutes: offset,
		})
	}
	srcs := make([]xmltvgen.SourceRef, 0, len(sources))
	for _, src := range sources {
		srcs = append(srcs, xmltvgen.SourceRef{SourceID: src.SourceID, DBPath: s.EPGDBPath(src.SourceID)})
	}

	now := time.Now()
	window := xmltvgen.Window{From: now.Add(-2 * time.Hour), To: now.Add(s.EPGWindow)}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	out := io.Writer(w)
	if strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		out = gz
	}
	if err := xmltvgen.Write(out, xc, srcs, s.Store.ResolveEPGChannelID, window); err != nil {
		logging.Errorf("httpapi: write xmltv: %v", err)
	}
}

// handlePlay serves GET /play/{portal_id}/{channel_id} (§6): the live
// dispatcher entry point. The response is MPEG-TS written directly by the
// Dispatcher; nothing here buffers it.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	portalID := chi.URLParam(r, "portal_id")
	channelID := chi.URLParam(r, "channel_id")
	clientIP := clientIPFromRequest(r)

	w.Header().Set("Content-Type", "video/mp2t")
	err := s.Dispatcher.Play(r.Context(), w, portalID, channelID, clientIP)
	if err != nil {
		if errors.Is(err, dispatcher.ErrExhausted) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.Errorf("httpapi: play portal=%s channel=%s: %v", portalID, channelID, err)
	}
}

// handleStreaming serves GET /streaming (§6): a JSON snapshot of every live
// session, grouped by MAC, for a status page to poll.
func (s *Server) handleStreaming(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.Dispatcher.Sessions.Snapshot(),
		"count":    s.Dispatcher.Sessions.Count(),
	})
}

type portalIDRequest struct {
	PortalID string `json:"portal_id"`
}

// handlePortalRefresh serves POST /api/portal/refresh (§6): queues (or runs
// immediately if idle) one catalog refresh for the named portal.
func (s *Server) handlePortalRefresh(w http.ResponseWriter, r *http.Request) {
	var req portalIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	go s.Scheduler.RefreshPortalNow(context.Background(), req.PortalID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "portal_id": req.PortalID})
}

// handlePortalRefreshStatus serves POST /api/portal/refresh/status (§6):
// reports whether a refresh for the portal is currently in flight, the
// portal's last-recomputed stats, and the error (if any) from its most
// recent completed refresh.
func (s *Server) handlePortalRefreshStatus(w http.ResponseWriter, r *http.Request) {
	var req portalIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	busy, queued, lastErr := s.Scheduler.CatalogStatus(req.PortalID)
	status := "idle"
	switch {
	case busy:
		status = "busy"
	case queued:
		status = "queued"
	}
	resp := map[string]interface{}{
		"portal_id": req.PortalID,
		"status":    status,
	}
	if lastErr != nil {
		resp["error"] = lastErr.Error()
	}
	if stats, found, err := s.Store.PortalStatsFor(req.PortalID); err == nil && found {
		resp["stats"] = stats
	}
	writeJSON(w, http.StatusOK, resp)
}

type macDeleteRequest struct {
	PortalID string `json:"portal_id"`
	MAC      string `json:"mac"`
}

// handleMACDelete serves POST /api/portal/mac/delete (§6).
func (s *Server) handleMACDelete(w http.ResponseWriter, r *http.Request) {
	var req macDeleteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Store.DeleteMAC(req.PortalID, req.MAC); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleMACsRefresh serves POST /api/portal/macs/refresh (§6): returns the
// portal's current MAC roster, triggering no portal calls itself (profile
// refresh happens opportunistically during playback, §4.I).
func (s *Server) handleMACsRefresh(w http.ResponseWriter, r *http.Request) {
	var req portalIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	macs, err := s.Store.MACsForPortal(req.PortalID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"macs": macs})
}

// handleGroups serves POST /api/portal/groups (§6): lists the portal's
// catalog groups with active state and channel counts.
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	var req portalIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	groups, err := s.Store.GroupsForPortal(req.PortalID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"groups": groups})
}

type genresListRequest struct {
	PortalID string `json:"portal_id"`
}

// handleGenresList serves POST /api/portal/genres/list (§6), the
// MacReplay-lineage fallback view of a portal's groups for portals whose
// get_genres call is unreliable; it is backed by the same catalog groups
// table as handleGroups, just presented as a flat name list.
func (s *Server) handleGenresList(w http.ResponseWriter, r *http.Request) {
	var req genresListRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	groups, err := s.Store.GroupsForPortal(req.PortalID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"genres": names})
}

type genresSetActiveRequest struct {
	PortalID string `json:"portal_id"`
	GenreID  string `json:"genre_id"`
	Active   bool   `json:"active"`
}

// handleGenres serves POST /api/portal/genres (§6): toggles one group's
// active flag, which the refresh protocol honors on the next pass (§4.B).
func (s *Server) handleGenres(w http.ResponseWriter, r *http.Request) {
	var req genresSetActiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.Store.SetGroupActive(req.PortalID, req.GenreID, req.Active); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

type sourceIDRequest struct {
	SourceID string `json:"source_id"`
}

// handleEPGRefresh serves POST /api/epg/refresh (§6): queues an immediate
// refresh for one EPG source via the scheduler's RefreshSourceNow.
func (s *Server) handleEPGRefresh(w http.ResponseWriter, r *http.Request) {
	var req sourceIDRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	go s.Scheduler.RefreshSourceNow(context.Background(), req.SourceID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "source_id": req.SourceID})
}

// handleEPGStatus serves GET /api/epg/status (§6): the configured sources
// and their last fetch/refresh timestamps, plus the top-level is_refreshing
// and last_refresh fields the spec's endpoint table requires.
func (s *Server) handleEPGStatus(w http.ResponseWriter, r *http.Request) {
	sources, err := s.Store.EnabledEPGSources()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	var lastRefresh *time.Time
	for _, src := range sources {
		if src.LastRefresh == nil {
			continue
		}
		if lastRefresh == nil || src.LastRefresh.After(*lastRefresh) {
			lastRefresh = src.LastRefresh
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sources":       sources,
		"is_refreshing": s.Scheduler.IsEPGRefreshing(),
		"last_refresh":  lastRefresh,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// clientIPFromRequest extracts the caller's address for session bookkeeping
// (§3 Session.client_ip), preferring X-Forwarded-For when present since the
// proxy usually sits behind a reverse proxy of its own.
func clientIPFromRequest(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}

// newSessionID is exposed so callers that need a correlation id outside the
// Dispatcher's own session table (e.g. request logging) can mint one the
// same way.
func newSessionID() string { return uuid.NewString() }
