package catalogdb

import (
	"database/sql"
	"time"
)

// UpsertEPGSource inserts or updates an EPG source's durable row.
func (s *Store) UpsertEPGSource(src EPGSource) error {
	_, err := s.db.Exec(`
		INSERT INTO epg_sources (source_id, name, url, source_type, enabled, interval_hours, last_fetch, last_refresh)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			name=excluded.name, url=excluded.url, source_type=excluded.source_type,
			enabled=excluded.enabled, interval_hours=excluded.interval_hours
	`, src.SourceID, src.Name, src.URL, src.SourceType, boolToInt(src.Enabled), src.IntervalHours,
		timeToNullString(src.LastFetch), timeToNullString(src.LastRefresh))
	return err
}

// TouchEPGSource records the outcome timestamps of a refresh attempt.
func (s *Store) TouchEPGSource(sourceID string, fetchedAt, refreshedAt *time.Time) error {
	_, err := s.db.Exec(`UPDATE epg_sources SET last_fetch = ?, last_refresh = ? WHERE source_id = ?`,
		timeToNullString(fetchedAt), timeToNullString(refreshedAt), sourceID)
	return err
}

// EnabledEPGSources returns every source with enabled=1, for the refresh
// scheduler loop.
func (s *Store) EnabledEPGSources() ([]EPGSource, error) {
	rows, err := s.db.Query(`
		SELECT source_id, name, url, source_type, enabled, interval_hours, last_fetch, last_refresh
		FROM epg_sources WHERE enabled = 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EPGSource
	for rows.Next() {
		var src EPGSource
		var enabled int
		var lastFetch, lastRefresh sql.NullString
		if err := rows.Scan(&src.SourceID, &src.Name, &src.URL, &src.SourceType, &enabled, &src.IntervalHours, &lastFetch, &lastRefresh); err != nil {
			return nil, err
		}
		src.Enabled = enabled != 0
		src.LastFetch = nullStringToTime(lastFetch)
		src.LastRefresh = nullStringToTime(lastRefresh)
		out = append(out, src)
	}
	return out, rows.Err()
}

// ReplaceEPGChannels wholesale-replaces a source's channel directory
// (epg_channels + epg_channel_names) in one transaction, mirroring the
// programme store's replace-not-diff approach: the source is authoritative
// on every refresh.
func (s *Store) ReplaceEPGChannels(sourceID string, channels []EPGChannel) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM epg_channels WHERE source_id = ?`, sourceID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM epg_channel_names WHERE source_id = ?`, sourceID); err != nil {
		return err
	}

	chStmt, err := tx.Prepare(`INSERT INTO epg_channels (source_id, channel_id, display_name, icon, lcn) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer chStmt.Close()
	nameStmt, err := tx.Prepare(`INSERT OR IGNORE INTO epg_channel_names (source_id, channel_id, display_name) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer nameStmt.Close()

	for _, c := range channels {
		if _, err := chStmt.Exec(sourceID, c.ChannelID, c.DisplayName, c.Icon, c.LCN); err != nil {
			return err
		}
		names := c.AltNames
		if c.DisplayName != "" {
			names = append([]string{c.DisplayName}, names...)
		}
		for _, n := range names {
			if n == "" {
				continue
			}
			if _, err := nameStmt.Exec(sourceID, c.ChannelID, n); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// ResolveEPGChannelID implements the emitter's 3-tier lookup: exact id
// match, then a case-folded alias match against any display-name the
// source advertised, then no match.
func (s *Store) ResolveEPGChannelID(sourceID, epgID string) (EPGChannel, bool, error) {
	row := s.db.QueryRow(`SELECT source_id, channel_id, display_name, icon, lcn FROM epg_channels WHERE source_id = ? AND channel_id = ?`, sourceID, epgID)
	var c EPGChannel
	err := row.Scan(&c.SourceID, &c.ChannelID, &c.DisplayName, &c.Icon, &c.LCN)
	if err == nil {
		return c, true, nil
	}
	if err != sql.ErrNoRows {
		return EPGChannel{}, false, err
	}

	row = s.db.QueryRow(`
		SELECT c.source_id, c.channel_id, c.display_name, c.icon, c.lcn
		FROM epg_channel_names n
		JOIN epg_channels c ON c.source_id = n.source_id AND c.channel_id = n.channel_id
		WHERE n.source_id = ? AND lower(n.display_name) = lower(?)
		LIMIT 1
	`, sourceID, epgID)
	err = row.Scan(&c.SourceID, &c.ChannelID, &c.DisplayName, &c.Icon, &c.LCN)
	if err == sql.ErrNoRows {
		return EPGChannel{}, false, nil
	}
	if err != nil {
		return EPGChannel{}, false, err
	}
	return c, true, nil
}
