package catalogdb

const schema = `
CREATE TABLE IF NOT EXISTS portals (
	portal_id       TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	url             TEXT NOT NULL,
	enabled         INTEGER NOT NULL DEFAULT 1,
	proxy           TEXT NOT NULL DEFAULT '',
	streams_per_mac INTEGER NOT NULL DEFAULT 0,
	epg_offset      INTEGER NOT NULL DEFAULT 0,
	auto_normalize  INTEGER NOT NULL DEFAULT 0,
	auto_match      INTEGER NOT NULL DEFAULT 0,
	fetch_epg       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS macs (
	portal_id                 TEXT NOT NULL REFERENCES portals(portal_id) ON DELETE CASCADE,
	mac_address                TEXT NOT NULL,
	expires_at                 TEXT,
	watchdog_timeout_seconds   INTEGER NOT NULL DEFAULT 0,
	playback_limit             INTEGER NOT NULL DEFAULT 0,
	last_profile_fetch_at      TEXT,
	PRIMARY KEY (portal_id, mac_address)
);

CREATE TABLE IF NOT EXISTS groups (
	portal_id     TEXT NOT NULL REFERENCES portals(portal_id) ON DELETE CASCADE,
	genre_id      TEXT NOT NULL,
	name          TEXT NOT NULL,
	channel_count INTEGER NOT NULL DEFAULT 0,
	active        INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (portal_id, genre_id)
);

CREATE TABLE IF NOT EXISTS channels (
	portal_id          TEXT NOT NULL REFERENCES portals(portal_id) ON DELETE CASCADE,
	channel_id         TEXT NOT NULL,
	name               TEXT NOT NULL,
	number             TEXT NOT NULL DEFAULT '',
	genre              TEXT NOT NULL DEFAULT '',
	genre_id           TEXT NOT NULL DEFAULT '',
	logo               TEXT NOT NULL DEFAULT '',
	cmd                TEXT NOT NULL DEFAULT '',
	auto_name          TEXT NOT NULL DEFAULT '',
	display_name       TEXT NOT NULL DEFAULT '',
	resolution         TEXT NOT NULL DEFAULT '',
	video_codec        TEXT NOT NULL DEFAULT '',
	country            TEXT NOT NULL DEFAULT '',
	event_tags         TEXT NOT NULL DEFAULT '[]',
	misc_tags          TEXT NOT NULL DEFAULT '[]',
	is_header          INTEGER NOT NULL DEFAULT 0,
	is_event           INTEGER NOT NULL DEFAULT 0,
	is_raw             INTEGER NOT NULL DEFAULT 0,
	custom_name        TEXT NOT NULL DEFAULT '',
	custom_number      TEXT NOT NULL DEFAULT '',
	custom_genre       TEXT NOT NULL DEFAULT '',
	custom_epg_id      TEXT NOT NULL DEFAULT '',
	enabled            INTEGER NOT NULL DEFAULT 1,
	prior_enabled      INTEGER NOT NULL DEFAULT 1,
	matched_name       TEXT NOT NULL DEFAULT '',
	matched_source     TEXT NOT NULL DEFAULT '',
	matched_station_id TEXT NOT NULL DEFAULT '',
	matched_call_sign  TEXT NOT NULL DEFAULT '',
	matched_logo       TEXT NOT NULL DEFAULT '',
	matched_score      REAL NOT NULL DEFAULT 0,
	alternate_ids      TEXT NOT NULL DEFAULT '[]',
	channel_hash       TEXT NOT NULL DEFAULT '',
	soft_deleted_at    TEXT,
	PRIMARY KEY (portal_id, channel_id)
);

CREATE INDEX IF NOT EXISTS idx_channels_genre ON channels(portal_id, genre_id);

CREATE TABLE IF NOT EXISTS portal_stats (
	portal_id        TEXT PRIMARY KEY REFERENCES portals(portal_id) ON DELETE CASCADE,
	total_channels   INTEGER NOT NULL DEFAULT 0,
	enabled_channels INTEGER NOT NULL DEFAULT 0,
	total_macs       INTEGER NOT NULL DEFAULT 0,
	non_expired_macs INTEGER NOT NULL DEFAULT 0,
	updated_at       TEXT
);

CREATE TABLE IF NOT EXISTS channel_available_macs (
	portal_id   TEXT NOT NULL,
	channel_id  TEXT NOT NULL,
	mac_address TEXT NOT NULL,
	PRIMARY KEY (portal_id, channel_id, mac_address),
	FOREIGN KEY (portal_id, channel_id) REFERENCES channels(portal_id, channel_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS epg_sources (
	source_id      TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	url            TEXT NOT NULL,
	source_type    TEXT NOT NULL DEFAULT 'custom',
	enabled        INTEGER NOT NULL DEFAULT 1,
	interval_hours INTEGER NOT NULL DEFAULT 12,
	last_fetch     TEXT,
	last_refresh   TEXT
);

CREATE TABLE IF NOT EXISTS epg_channels (
	source_id    TEXT NOT NULL REFERENCES epg_sources(source_id) ON DELETE CASCADE,
	channel_id   TEXT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	icon         TEXT NOT NULL DEFAULT '',
	lcn          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (source_id, channel_id)
);

CREATE TABLE IF NOT EXISTS epg_channel_names (
	source_id    TEXT NOT NULL REFERENCES epg_sources(source_id) ON DELETE CASCADE,
	channel_id   TEXT NOT NULL,
	display_name TEXT NOT NULL,
	PRIMARY KEY (source_id, channel_id, display_name)
);
`

// migrate creates the schema if it does not already exist. Safe to call on
// every startup; CREATE TABLE IF NOT EXISTS makes it idempotent.
func migrate(exec execer) error {
	_, err := exec.Exec(schema)
	return err
}
