package catalogdb

import "time"

// Portal is the durable row for one portal, independent of the live
// config.json-owned settings (configstore.Portal); catalogdb only persists
// what the refresh protocol and emitters need.
type Portal struct {
	PortalID      string
	Name          string
	URL           string
	Enabled       bool
	Proxy         string
	StreamsPerMAC int
	EPGOffset     int
	AutoNormalize bool
	AutoMatch     bool
	FetchEPG      bool
}

// MAC is one credential owned by a portal.
type MAC struct {
	PortalID               string
	MACAddress             string
	ExpiresAt              *time.Time
	WatchdogTimeoutSeconds int
	PlaybackLimit          int
	LastProfileFetchAt     *time.Time
}

// Expired reports whether the MAC's expires_at has passed as of now.
func (m MAC) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// PortalStats is the per-portal rollup recomputed alongside group_stats in
// every RefreshPortal transaction (spec §4.B step 7).
type PortalStats struct {
	PortalID        string
	TotalChannels   int
	EnabledChannels int
	TotalMACs       int
	NonExpiredMACs  int
	UpdatedAt       *time.Time
}

// Group is a portal-native category of channels (§3 Group).
type Group struct {
	PortalID     string
	GenreID      string
	Name         string
	ChannelCount int
	Active       bool
}

// Channel is the full row per §3's Channel data model.
type Channel struct {
	PortalID  string
	ChannelID string

	// Raw fields from the portal.
	Name    string
	Number  string
	Genre   string
	GenreID string
	Logo    string
	Cmd     string

	// Derived by C (Tag & Name Normalizer).
	AutoName    string
	DisplayName string
	Resolution  string
	VideoCodec  string
	Country     string
	EventTags   []string
	MiscTags    []string
	IsHeader    bool
	IsEvent     bool
	IsRaw       bool

	// User overrides.
	CustomName   string
	CustomNumber string
	CustomGenre  string
	CustomEPGID  string
	Enabled      bool
	// PriorEnabled remembers Enabled as of the moment a row was soft-deleted,
	// so a channel the portal stops, then resumes, listing comes back with
	// whatever enabled state the operator had set rather than force-enabled.
	PriorEnabled bool

	// Matching (D).
	MatchedName      string
	MatchedSource    string
	MatchedStationID string
	MatchedCallSign  string
	MatchedLogo      string
	MatchedScore     float64

	AvailableMACs []string
	AlternateIDs  []string
	ChannelHash   string

	SoftDeletedAt *time.Time
}

// EffectiveDisplayName implements invariant (i) of §3.
func (c Channel) EffectiveDisplayName() string {
	if c.CustomName != "" {
		return c.CustomName
	}
	if c.AutoName != "" {
		return c.AutoName
	}
	return c.Name
}

// EffectiveEPGID implements invariant (ii) of §3.
func (c Channel) EffectiveEPGID() string {
	if c.CustomEPGID != "" {
		return c.CustomEPGID
	}
	if c.MatchedStationID != "" {
		return c.MatchedStationID
	}
	return DerivedFallbackEPGID(c.PortalID, c.ChannelID)
}

// EffectiveNumber applies the custom_number override, falling back to the
// portal-reported number.
func (c Channel) EffectiveNumber() string {
	if c.CustomNumber != "" {
		return c.CustomNumber
	}
	return c.Number
}

// EffectiveGenre applies the custom_genre override.
func (c Channel) EffectiveGenre() string {
	if c.CustomGenre != "" {
		return c.CustomGenre
	}
	return c.Genre
}

// DerivedFallbackEPGID builds a stable synthetic EPG id when no match and
// no custom override exist, so XMLTV <channel id> is never empty.
func DerivedFallbackEPGID(portalID, channelID string) string {
	return portalID + "." + channelID
}

// EPGSource is one configured XMLTV feed (§4.E).
type EPGSource struct {
	SourceID      string
	Name          string
	URL           string
	SourceType    string
	Enabled       bool
	IntervalHours int
	LastFetch     *time.Time
	LastRefresh   *time.Time
}

// EPGChannel is one <channel> advertised by a source, keyed by the source's
// own channel id (the id the emitter resolves against a catalog channel's
// effective EPG id).
type EPGChannel struct {
	SourceID    string
	ChannelID   string
	DisplayName string
	Icon        string
	LCN         string
	// AltNames holds every display-name the source listed for this
	// channel, for the resolver's case-folded-alias lookup tier.
	AltNames []string
}
