// Package catalogdb is the durable Channel Catalog Store (§4.B): portals,
// MACs, groups, and channels in an embedded relational database, with an
// incremental refresh protocol keyed on a content-addressed channel_hash.
// Grounded on the teacher's only real database user, internal/plex/dvr.go,
// which opens modernc.org/sqlite the same way: sql.Open("sqlite", path)
// behind a blank driver import, no CGo.
package catalogdb

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

// Store is the process-wide Catalog Store. Reads are lock-free (SQLite's
// own MVCC/snapshot semantics in WAL mode); writes to a given portal are
// serialized by a portal-scoped mutex, per spec §4.B's concurrency note.
type Store struct {
	db *sql.DB

	mu         sync.Mutex
	portalLock map[string]*sync.Mutex
}

// Open opens (creating if needed) the catalog database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("catalogdb: open %s: %w", path, err)
	}
	// A single connection avoids SQLITE_BUSY under the portal mutex scheme;
	// reads and writes alike are serialized through it.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalogdb: enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalogdb: enable foreign_keys: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalogdb: migrate: %w", err)
	}
	return &Store{db: db, portalLock: map[string]*sync.Mutex{}}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// lockPortal returns the mutex guarding writes to portalID, creating it on
// first use.
func (s *Store) lockPortal(portalID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.portalLock[portalID]
	if !ok {
		m = &sync.Mutex{}
		s.portalLock[portalID] = m
	}
	return m
}

// UpsertPortal inserts or updates a portal's durable row.
func (s *Store) UpsertPortal(p Portal) error {
	lock := s.lockPortal(p.PortalID)
	lock.Lock()
	defer lock.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO portals (portal_id, name, url, enabled, proxy, streams_per_mac, epg_offset, auto_normalize, auto_match, fetch_epg)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portal_id) DO UPDATE SET
			name=excluded.name, url=excluded.url, enabled=excluded.enabled, proxy=excluded.proxy,
			streams_per_mac=excluded.streams_per_mac, epg_offset=excluded.epg_offset,
			auto_normalize=excluded.auto_normalize, auto_match=excluded.auto_match, fetch_epg=excluded.fetch_epg
	`, p.PortalID, p.Name, p.URL, boolToInt(p.Enabled), p.Proxy, p.StreamsPerMAC, p.EPGOffset,
		boolToInt(p.AutoNormalize), boolToInt(p.AutoMatch), boolToInt(p.FetchEPG))
	return err
}

// Portal fetches one portal's durable row.
func (s *Store) Portal(portalID string) (Portal, bool, error) {
	row := s.db.QueryRow(`
		SELECT portal_id, name, url, enabled, proxy, streams_per_mac, epg_offset, auto_normalize, auto_match, fetch_epg
		FROM portals WHERE portal_id = ?`, portalID)
	var p Portal
	var enabled, autoNormalize, autoMatch, fetchEPG int
	err := row.Scan(&p.PortalID, &p.Name, &p.URL, &enabled, &p.Proxy, &p.StreamsPerMAC, &p.EPGOffset, &autoNormalize, &autoMatch, &fetchEPG)
	if err == sql.ErrNoRows {
		return Portal{}, false, nil
	}
	if err != nil {
		return Portal{}, false, err
	}
	p.Enabled = enabled != 0
	p.AutoNormalize = autoNormalize != 0
	p.AutoMatch = autoMatch != 0
	p.FetchEPG = fetchEPG != 0
	return p, true, nil
}

// PortalStatsFor returns the last-recomputed aggregate row for one portal,
// written by RefreshPortal's recomputePortalStatsTx step.
func (s *Store) PortalStatsFor(portalID string) (PortalStats, bool, error) {
	row := s.db.QueryRow(`
		SELECT portal_id, total_channels, enabled_channels, total_macs, non_expired_macs, updated_at
		FROM portal_stats WHERE portal_id = ?`, portalID)
	var st PortalStats
	var updatedAt sql.NullString
	err := row.Scan(&st.PortalID, &st.TotalChannels, &st.EnabledChannels, &st.TotalMACs, &st.NonExpiredMACs, &updatedAt)
	if err == sql.ErrNoRows {
		return PortalStats{}, false, nil
	}
	if err != nil {
		return PortalStats{}, false, err
	}
	st.UpdatedAt = nullStringToTime(updatedAt)
	return st, true, nil
}

// DeletePortal removes a portal; cascades to macs/groups/channels via FK.
func (s *Store) DeletePortal(portalID string) error {
	lock := s.lockPortal(portalID)
	lock.Lock()
	defer lock.Unlock()
	_, err := s.db.Exec(`DELETE FROM portals WHERE portal_id = ?`, portalID)
	return err
}

// UpsertMAC inserts or updates one MAC row.
func (s *Store) UpsertMAC(m MAC) error {
	lock := s.lockPortal(m.PortalID)
	lock.Lock()
	defer lock.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO macs (portal_id, mac_address, expires_at, watchdog_timeout_seconds, playback_limit, last_profile_fetch_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(portal_id, mac_address) DO UPDATE SET
			expires_at=excluded.expires_at,
			watchdog_timeout_seconds=excluded.watchdog_timeout_seconds,
			playback_limit=excluded.playback_limit,
			last_profile_fetch_at=excluded.last_profile_fetch_at
	`, m.PortalID, m.MACAddress, timeToNullString(m.ExpiresAt), m.WatchdogTimeoutSeconds, m.PlaybackLimit, timeToNullString(m.LastProfileFetchAt))
	return err
}

// DeleteMAC removes one MAC from a portal.
func (s *Store) DeleteMAC(portalID, mac string) error {
	lock := s.lockPortal(portalID)
	lock.Lock()
	defer lock.Unlock()
	_, err := s.db.Exec(`DELETE FROM macs WHERE portal_id = ? AND mac_address = ?`, portalID, mac)
	return err
}

// MACsForPortal returns every MAC row owned by portalID.
func (s *Store) MACsForPortal(portalID string) ([]MAC, error) {
	rows, err := s.db.Query(`
		SELECT portal_id, mac_address, expires_at, watchdog_timeout_seconds, playback_limit, last_profile_fetch_at
		FROM macs WHERE portal_id = ?`, portalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MAC
	for rows.Next() {
		var m MAC
		var expiresAt, lastFetch sql.NullString
		if err := rows.Scan(&m.PortalID, &m.MACAddress, &expiresAt, &m.WatchdogTimeoutSeconds, &m.PlaybackLimit, &lastFetch); err != nil {
			return nil, err
		}
		m.ExpiresAt = nullStringToTime(expiresAt)
		m.LastProfileFetchAt = nullStringToTime(lastFetch)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GroupsForPortal returns every group row owned by portalID.
func (s *Store) GroupsForPortal(portalID string) ([]Group, error) {
	rows, err := s.db.Query(`SELECT portal_id, genre_id, name, channel_count, active FROM groups WHERE portal_id = ?`, portalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Group
	for rows.Next() {
		var g Group
		var active int
		if err := rows.Scan(&g.PortalID, &g.GenreID, &g.Name, &g.ChannelCount, &active); err != nil {
			return nil, err
		}
		g.Active = active != 0
		out = append(out, g)
	}
	return out, rows.Err()
}

// SetGroupActive toggles a group's active flag without touching channels
// (invariant (v) of §3: toggling never deletes channels).
func (s *Store) SetGroupActive(portalID, genreID string, active bool) error {
	lock := s.lockPortal(portalID)
	lock.Lock()
	defer lock.Unlock()
	_, err := s.db.Exec(`UPDATE groups SET active = ? WHERE portal_id = ? AND genre_id = ?`, boolToInt(active), portalID, genreID)
	return err
}

// EnabledChannels returns every channel with enabled=1 whose group (if any)
// is also active, for the M3U/XMLTV emitters.
func (s *Store) EnabledChannels(portalID string) ([]Channel, error) {
	rows, err := s.db.Query(`
		SELECT c.portal_id, c.channel_id, c.name, c.number, c.genre, c.genre_id, c.logo, c.cmd,
		       c.auto_name, c.display_name, c.resolution, c.video_codec, c.country, c.event_tags, c.misc_tags,
		       c.is_header, c.is_event, c.is_raw,
		       c.custom_name, c.custom_number, c.custom_genre, c.custom_epg_id, c.enabled, c.prior_enabled,
		       c.matched_name, c.matched_source, c.matched_station_id, c.matched_call_sign, c.matched_logo, c.matched_score,
		       c.alternate_ids, c.channel_hash, c.soft_deleted_at
		FROM channels c
		LEFT JOIN groups g ON g.portal_id = c.portal_id AND g.genre_id = c.genre_id AND c.genre_id != ''
		WHERE c.portal_id = ? AND c.enabled = 1 AND (g.genre_id IS NULL OR g.active = 1)
		ORDER BY c.channel_id
	`, portalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChannels(rows)
}

// AllEnabledChannels returns enabled channels across every portal, used by
// the global M3U/XMLTV emitters.
func (s *Store) AllEnabledChannels() ([]Channel, error) {
	rows, err := s.db.Query(`
		SELECT c.portal_id, c.channel_id, c.name, c.number, c.genre, c.genre_id, c.logo, c.cmd,
		       c.auto_name, c.display_name, c.resolution, c.video_codec, c.country, c.event_tags, c.misc_tags,
		       c.is_header, c.is_event, c.is_raw,
		       c.custom_name, c.custom_number, c.custom_genre, c.custom_epg_id, c.enabled, c.prior_enabled,
		       c.matched_name, c.matched_source, c.matched_station_id, c.matched_call_sign, c.matched_logo, c.matched_score,
		       c.alternate_ids, c.channel_hash, c.soft_deleted_at
		FROM channels c
		LEFT JOIN groups g ON g.portal_id = c.portal_id AND g.genre_id = c.genre_id AND c.genre_id != ''
		WHERE c.enabled = 1 AND (g.genre_id IS NULL OR g.active = 1)
		ORDER BY c.portal_id, c.channel_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanChannels(rows)
}

// Channel fetches one channel row, including soft-deleted ones.
func (s *Store) Channel(portalID, channelID string) (Channel, bool, error) {
	row := s.db.QueryRow(`
		SELECT portal_id, channel_id, name, number, genre, genre_id, logo, cmd,
		       auto_name, display_name, resolution, video_codec, country, event_tags, misc_tags,
		       is_header, is_event, is_raw,
		       custom_name, custom_number, custom_genre, custom_epg_id, enabled, prior_enabled,
		       matched_name, matched_source, matched_station_id, matched_call_sign, matched_logo, matched_score,
		       alternate_ids, channel_hash, soft_deleted_at
		FROM channels WHERE portal_id = ? AND channel_id = ?`, portalID, channelID)
	c, err := scanChannelRow(row)
	if err == sql.ErrNoRows {
		return Channel{}, false, nil
	}
	if err != nil {
		return Channel{}, false, err
	}
	return c, true, nil
}

// AvailableMACs returns the MACs known to have returned a valid stream cmd
// for this channel.
func (s *Store) AvailableMACs(portalID, channelID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT mac_address FROM channel_available_macs WHERE portal_id = ? AND channel_id = ?`, portalID, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var mac string
		if err := rows.Scan(&mac); err != nil {
			return nil, err
		}
		out = append(out, mac)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
