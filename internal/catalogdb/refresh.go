package catalogdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/snapetech/stalkerproxy/internal/macscheduler"
	"github.com/snapetech/stalkerproxy/internal/match"
	"github.com/snapetech/stalkerproxy/internal/normalize"
	"github.com/snapetech/stalkerproxy/internal/portal"
	"github.com/snapetech/stalkerproxy/internal/portalerr"
)

// ChannelFetcher is the slice of *portal.Client that refresh_portal needs;
// accepting the interface instead of the concrete type keeps catalogdb
// independent of portal's HTTP/retry machinery and lets tests substitute a
// fake.
type ChannelFetcher interface {
	GetGenres(ctx context.Context) ([]portal.Genre, error)
	GetAllChannels(ctx context.Context) ([]portal.RawChannel, error)
}

// ClientFactory builds a ChannelFetcher bound to one MAC. Returning the
// interface (not *portal.Client) keeps the dependency one-directional.
type ClientFactory func(mac MAC) (ChannelFetcher, error)

// Logf receives progress/diagnostic lines from RefreshPortal (e.g. a MAC
// skipped for a whole-listing PortalUnreachable).
type Logf func(format string, args ...interface{})

// RefreshSummary reports what one RefreshPortal call did.
type RefreshSummary struct {
	ChannelsSeen        int
	ChannelsChanged     int
	ChannelsSoftDeleted int
	ChannelsHardDeleted int
	MACsSkipped         []string
}

// RefreshPortal implements the §4.B incremental refresh protocol. rules and
// directory drive components C and D respectively; either may be nil/empty
// to skip that stage (e.g. a portal with auto_normalize off).
func (s *Store) RefreshPortal(
	ctx context.Context,
	portalID string,
	newClient ClientFactory,
	rules []normalize.Rule,
	directory *match.Directory,
	matchFloor float64,
	softDeleteTTL time.Duration,
	now time.Time,
	logf Logf,
) (RefreshSummary, error) {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	lock := s.lockPortal(portalID)
	lock.Lock()
	defer lock.Unlock()

	macs, err := s.MACsForPortal(portalID)
	if err != nil {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: load macs: %w", portalID, err)
	}
	nonExpired := make([]MAC, 0, len(macs))
	schedulerMACs := make([]macscheduler.MAC, 0, len(macs))
	for _, m := range macs {
		if m.Expired(now) {
			continue
		}
		nonExpired = append(nonExpired, m)
		schedulerMACs = append(schedulerMACs, macscheduler.MAC{
			Address:                m.MACAddress,
			WatchdogTimeoutSeconds: m.WatchdogTimeoutSeconds,
			PlaybackLimit:          m.PlaybackLimit,
			ExpiresAt:              m.ExpiresAt,
		})
	}
	if len(nonExpired) == 0 {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: no non-expired macs", portalID)
	}

	// Step 1: reference MAC, picked by the scheduler's own ordering rule but
	// over every non-expired MAC (no busy filtering — refresh isn't a
	// playback request).
	ordered := macscheduler.Select(schedulerMACs, nil, now)
	if len(ordered) == 0 {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: scheduler produced no candidate mac", portalID)
	}
	refMAC := macByAddress(nonExpired, ordered[0].Address)

	refClient, err := newClient(refMAC)
	if err != nil {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: build reference client: %w", portalID, err)
	}

	// Step 2: groups and raw channels through A.
	genres, err := refClient.GetGenres(ctx)
	if err != nil {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: get_genres: %w", portalID, err)
	}
	rawChannels, err := refClient.GetAllChannels(ctx)
	if err != nil {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: get_all_channels: %w", portalID, err)
	}

	// Step 4: union available_macs across every non-expired MAC, skipping
	// (and logging) MACs whose whole listing fails with PortalUnreachable.
	// channelMeta tracks, per channel_id, a representative RawChannel to
	// source name/genre/etc. from: the reference MAC's own listing when it
	// has one, otherwise whichever other MAC listed the channel first. A
	// channel absent from the reference MAC's listing but present on at
	// least one other non-failing MAC is still "available" per spec §4.B
	// step 6 and must not be swept as missing.
	availableMACs := map[string]map[string]bool{} // channel_id -> set(mac)
	channelMeta := make(map[string]portal.RawChannel, len(rawChannels))
	for _, rc := range rawChannels {
		channelMeta[rc.ChannelID] = rc
	}
	var skipped []string
	for _, m := range nonExpired {
		client, err := newClient(m)
		if err != nil {
			logf("refresh %s: skip mac %s: build client: %v", portalID, m.MACAddress, err)
			skipped = append(skipped, m.MACAddress)
			continue
		}
		channels, err := client.GetAllChannels(ctx)
		if err != nil {
			var perr *portalerr.Error
			if errors.As(err, &perr) && perr.Kind == portalerr.KindUnreachable {
				logf("refresh %s: skip mac %s: whole listing unreachable: %v", portalID, m.MACAddress, err)
				skipped = append(skipped, m.MACAddress)
				continue
			}
			logf("refresh %s: mac %s: get_all_channels error: %v", portalID, m.MACAddress, err)
			skipped = append(skipped, m.MACAddress)
			continue
		}
		for _, rc := range channels {
			if rc.Cmd == "" {
				continue // single-channel absence for this mac only
			}
			set, ok := availableMACs[rc.ChannelID]
			if !ok {
				set = map[string]bool{}
				availableMACs[rc.ChannelID] = set
			}
			set[m.MACAddress] = true
			if _, ok := channelMeta[rc.ChannelID]; !ok {
				channelMeta[rc.ChannelID] = rc
			}
		}
	}

	// allChannels is the union driving the upsert loop below: the reference
	// MAC's listing first (preserves its ordering/number fields), then any
	// channels seen only on other MACs.
	inReference := make(map[string]bool, len(rawChannels))
	for _, r := range rawChannels {
		inReference[r.ChannelID] = true
	}
	allChannels := make([]portal.RawChannel, 0, len(channelMeta))
	allChannels = append(allChannels, rawChannels...)
	for id, rc := range channelMeta {
		if inReference[id] {
			continue
		}
		allChannels = append(allChannels, rc)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: begin tx: %w", portalID, err)
	}
	defer tx.Rollback()

	summary := RefreshSummary{ChannelsSeen: len(allChannels), MACsSkipped: skipped}

	if err := upsertGroupsTx(tx, portalID, genres); err != nil {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: upsert groups: %w", portalID, err)
	}

	seenChannelIDs := make(map[string]bool, len(allChannels))
	for _, rc := range allChannels {
		seenChannelIDs[rc.ChannelID] = true
		hash := ChannelHash(rc)
		existing, found, err := channelTx(tx, portalID, rc.ChannelID)
		if err != nil {
			return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: load channel %s: %w", portalID, rc.ChannelID, err)
		}

		c := existing
		c.PortalID = portalID
		c.ChannelID = rc.ChannelID
		c.Name = rc.Name
		c.Number = rc.Number
		c.Genre = rc.Genre
		c.GenreID = rc.GenreID
		c.Logo = rc.Logo
		c.Cmd = rc.Cmd
		c.ChannelHash = hash
		if !found {
			c.Enabled = true
			c.PriorEnabled = true
		} else if existing.SoftDeletedAt != nil {
			// Reappeared after a soft-delete: restore whatever enabled state
			// the operator had set before the portal stopped listing it,
			// rather than force re-enabling it.
			c.Enabled = existing.PriorEnabled
		}
		c.SoftDeletedAt = nil

		if !found || existing.ChannelHash != hash {
			summary.ChannelsChanged++
			if len(rules) > 0 {
				res := normalize.Apply(rc.Name, rules)
				c.AutoName = res.DisplayName
				c.IsHeader = res.IsHeader
				c.IsRaw = res.IsRaw
				c.IsEvent = res.IsEvent
				c.Resolution = firstTag(res.Tags[normalize.GroupResolution])
				c.VideoCodec = firstTag(res.Tags[normalize.GroupCodec])
				c.Country = firstTag(res.Tags[normalize.GroupCountry])
				c.EventTags = res.Tags[normalize.GroupEvent]
				c.MiscTags = res.Tags[normalize.GroupMisc]
			}
			if directory != nil && c.CustomEPGID == "" {
				m := directory.Resolve(match.Query{Name: c.EffectiveDisplayName(), Country: c.Country}, matchFloor)
				if m.Matched {
					c.MatchedName = m.Name
					c.MatchedStationID = m.StationID
					c.MatchedCallSign = m.CallSign
					c.MatchedLogo = m.Logo
					c.MatchedScore = m.Score
					c.MatchedSource = m.Source
				}
			}
		}

		macSet := availableMACs[rc.ChannelID]
		macList := make([]string, 0, len(macSet))
		for mac := range macSet {
			macList = append(macList, mac)
		}
		c.AvailableMACs = macList

		if err := upsertChannelTx(tx, c); err != nil {
			return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: upsert channel %s: %w", portalID, rc.ChannelID, err)
		}
	}

	softDeleted, hardDeleted, err := sweepMissingChannelsTx(tx, portalID, seenChannelIDs, softDeleteTTL, now)
	if err != nil {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: sweep: %w", portalID, err)
	}
	summary.ChannelsSoftDeleted = softDeleted
	summary.ChannelsHardDeleted = hardDeleted

	if err := recomputeGroupStatsTx(tx, portalID); err != nil {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: recompute group stats: %w", portalID, err)
	}
	if err := recomputePortalStatsTx(tx, portalID, now); err != nil {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: recompute portal stats: %w", portalID, err)
	}

	if err := tx.Commit(); err != nil {
		return RefreshSummary{}, fmt.Errorf("catalogdb: refresh %s: commit: %w", portalID, err)
	}
	return summary, nil
}

func macByAddress(macs []MAC, addr string) MAC {
	for _, m := range macs {
		if m.MACAddress == addr {
			return m
		}
	}
	return MAC{MACAddress: addr}
}

func firstTag(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	return tags[0]
}

func upsertGroupsTx(tx *sql.Tx, portalID string, genres []portal.Genre) error {
	for _, g := range genres {
		_, err := tx.Exec(`
			INSERT INTO groups (portal_id, genre_id, name, channel_count, active)
			VALUES (?, ?, ?, 0, 1)
			ON CONFLICT(portal_id, genre_id) DO UPDATE SET name=excluded.name
		`, portalID, g.GenreID, g.Name)
		if err != nil {
			return err
		}
	}
	return nil
}

func channelTx(tx *sql.Tx, portalID, channelID string) (Channel, bool, error) {
	row := tx.QueryRow(`
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

func upsertChannelTx(tx *sql.Tx, c Channel) error {
	_, err := tx.Exec(`
		INSERT INTO channels (
			portal_id, channel_id, name, number, genre, genre_id, logo, cmd,
			auto_name, display_name, resolution, video_codec, country, event_tags, misc_tags,
			is_header, is_event, is_raw,
			custom_name, custom_number, custom_genre, custom_epg_id, enabled, prior_enabled,
			matched_name, matched_source, matched_station_id, matched_call_sign, matched_logo, matched_score,
			alternate_ids, channel_hash, soft_deleted_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(portal_id, channel_id) DO UPDATE SET
			name=excluded.name, number=excluded.number, genre=excluded.genre, genre_id=excluded.genre_id,
			logo=excluded.logo, cmd=excluded.cmd,
			auto_name=excluded.auto_name, display_name=excluded.display_name, resolution=excluded.resolution,
			video_codec=excluded.video_codec, country=excluded.country, event_tags=excluded.event_tags, misc_tags=excluded.misc_tags,
			is_header=excluded.is_header, is_event=excluded.is_event, is_raw=excluded.is_raw,
			enabled=excluded.enabled, prior_enabled=excluded.prior_enabled,
			matched_name=excluded.matched_name, matched_source=excluded.matched_source,
			matched_station_id=excluded.matched_station_id, matched_call_sign=excluded.matched_call_sign,
			matched_logo=excluded.matched_logo, matched_score=excluded.matched_score,
			alternate_ids=excluded.alternate_ids, channel_hash=excluded.channel_hash, soft_deleted_at=excluded.soft_deleted_at
	`,
		c.PortalID, c.ChannelID, c.Name, c.Number, c.Genre, c.GenreID, c.Logo, c.Cmd,
		c.AutoName, c.DisplayName, c.Resolution, c.VideoCodec, c.Country, encodeStringSlice(c.EventTags), encodeStringSlice(c.MiscTags),
		boolToInt(c.IsHeader), boolToInt(c.IsEvent), boolToInt(c.IsRaw),
		c.CustomName, c.CustomNumber, c.CustomGenre, c.CustomEPGID, boolToInt(c.Enabled), boolToInt(c.PriorEnabled),
		c.MatchedName, c.MatchedSource, c.MatchedStationID, c.MatchedCallSign, c.MatchedLogo, c.MatchedScore,
		encodeStringSlice(c.AlternateIDs), c.ChannelHash, timeToNullString(c.SoftDeletedAt),
	)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM channel_available_macs WHERE portal_id = ? AND channel_id = ?`, c.PortalID, c.ChannelID); err != nil {
		return err
	}
	for _, mac := range c.AvailableMACs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO channel_available_macs (portal_id, channel_id, mac_address) VALUES (?, ?, ?)`, c.PortalID, c.ChannelID, mac); err != nil {
			return err
		}
	}
	return nil
}

// sweepMissingChannelsTx implements step 6: rows present in store but
// absent from the fresh listing are soft-deleted, then hard-deleted once
// softDeleteTTL has elapsed since soft_deleted_at.
func sweepMissingChannelsTx(tx *sql.Tx, portalID string, seen map[string]bool, ttl time.Duration, now time.Time) (softDeleted, hardDeleted int, err error) {
	rows, err := tx.Query(`SELECT channel_id, soft_deleted_at, enabled FROM channels WHERE portal_id = ?`, portalID)
	if err != nil {
		return 0, 0, err
	}
	type row struct {
		channelID     string
		softDeletedAt *time.Time
		enabled       bool
	}
	var missing []row
	for rows.Next() {
		var channelID string
		var sd sql.NullString
		var enabled int
		if err := rows.Scan(&channelID, &sd, &enabled); err != nil {
			rows.Close()
			return 0, 0, err
		}
		if seen[channelID] {
			continue
		}
		missing = append(missing, row{channelID: channelID, softDeletedAt: nullStringToTime(sd), enabled: enabled != 0})
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}
	rows.Close()

	for _, r := range missing {
		if r.softDeletedAt == nil {
			if _, err := tx.Exec(`UPDATE channels SET enabled = 0, prior_enabled = ?, soft_deleted_at = ? WHERE portal_id = ? AND channel_id = ?`,
				boolToInt(r.enabled), now.UTC().Format(timeLayout), portalID, r.channelID); err != nil {
				return softDeleted, hardDeleted, err
			}
			softDeleted++
			continue
		}
		if ttl > 0 && now.Sub(*r.softDeletedAt) >= ttl {
			if _, err := tx.Exec(`DELETE FROM channels WHERE portal_id = ? AND channel_id = ?`, portalID, r.channelID); err != nil {
				return softDeleted, hardDeleted, err
			}
			hardDeleted++
		}
	}
	return softDeleted, hardDeleted, nil
}

func recomputeGroupStatsTx(tx *sql.Tx, portalID string) error {
	_, err := tx.Exec(`
		UPDATE groups SET channel_count = (
			SELECT COUNT(*) FROM channels
			WHERE channels.portal_id = groups.portal_id
			  AND channels.genre_id = groups.genre_id
			  AND channels.soft_deleted_at IS NULL
		) WHERE portal_id = ?
	`, portalID)
	return err
}

// recomputePortalStatsTx implements the portal_stats half of step 7,
// alongside recomputeGroupStatsTx in the same transaction.
func recomputePortalStatsTx(tx *sql.Tx, portalID string, now time.Time) error {
	_, err := tx.Exec(`
		INSERT INTO portal_stats (portal_id, total_channels, enabled_channels, total_macs, non_expired_macs, updated_at)
		VALUES (
			?,
			(SELECT COUNT(*) FROM channels WHERE portal_id = ? AND soft_deleted_at IS NULL),
			(SELECT COUNT(*) FROM channels WHERE portal_id = ? AND soft_deleted_at IS NULL AND enabled = 1),
			(SELECT COUNT(*) FROM macs WHERE portal_id = ?),
			(SELECT COUNT(*) FROM macs WHERE portal_id = ? AND (expires_at IS NULL OR expires_at > ?)),
			?
		)
		ON CONFLICT(portal_id) DO UPDATE SET
			total_channels=excluded.total_channels, enabled_channels=excluded.enabled_channels,
			total_macs=excluded.total_macs, non_expired_macs=excluded.non_expired_macs, updated_at=excluded.updated_at
	`, portalID, portalID, portalID, portalID, portalID, now.UTC().Format(timeLayout), now.UTC().Format(timeLayout))
	return err
}
