package match

import (
	"fmt"

	"github.com/snapetech/stalkerproxy/internal/dvbdb"
	"github.com/snapetech/stalkerproxy/internal/gracenote"
	"github.com/snapetech/stalkerproxy/internal/iptvorg"
	"github.com/snapetech/stalkerproxy/internal/schedulesdirect"
)

// ExternalSources names the on-disk harvested databases that feed the
// backing directory component D resolves against. Any path left empty is
// skipped. Grounded on the teacher's four separate enrichment databases
// (internal/iptvorg, internal/dvbdb, internal/gracenote,
// internal/schedulesdirect); match.Directory unifies them into one scored
// lookup instead of the teacher's per-source match-tier ladder.
type ExternalSources struct {
	IPTVOrgPath        string
	DVBPath            string
	GracenotePath      string
	SchedulesDirectPath string
}

// LoadExternalDirectory loads every configured source and merges them into
// one match.Directory, keeping each entry's originating station id
// namespaced by source so ids never collide across databases.
func LoadExternalDirectory(sources ExternalSources) (*Directory, error) {
	dir := &Directory{Source: "merged"}

	if sources.IPTVOrgPath != "" {
		db, err := iptvorg.Load(sources.IPTVOrgPath)
		if err != nil {
			return nil, fmt.Errorf("match: load iptv-org directory: %w", err)
		}
		for _, ch := range db.Channels {
			dir.Entries = append(dir.Entries, Entry{
				StationID: "iptvorg:" + ch.ID,
				Name:      ch.Name,
				AltNames:  ch.AltNames,
				Country:   ch.Country,
				Logo:      ch.Logo,
			})
		}
	}

	if sources.DVBPath != "" {
		db, err := dvbdb.Load(sources.DVBPath)
		if err != nil {
			return nil, fmt.Errorf("match: load dvb directory: %w", err)
		}
		for _, e := range db.Entries {
			name := e.Name
			if name == "" {
				name = e.NetworkName
			}
			dir.Entries = append(dir.Entries, Entry{
				StationID: stationIDOrFallback("dvb", e.TVGID, name),
				Name:      name,
				CallSign:  e.CallSign,
				Country:   e.Country,
			})
		}
	}

	if sources.GracenotePath != "" {
		db, err := gracenote.Load(sources.GracenotePath)
		if err != nil {
			return nil, fmt.Errorf("match: load gracenote directory: %w", err)
		}
		for _, ch := range db.Channels {
			dir.Entries = append(dir.Entries, Entry{
				StationID: "gracenote:" + ch.GridKey,
				Name:      ch.Title,
				CallSign:  ch.CallSign,
			})
		}
	}

	if sources.SchedulesDirectPath != "" {
		db, err := schedulesdirect.Load(sources.SchedulesDirectPath)
		if err != nil {
			return nil, fmt.Errorf("match: load schedules-direct directory: %w", err)
		}
		for _, st := range db.Stations {
			dir.Entries = append(dir.Entries, Entry{
				StationID: stationIDOrFallback("sd", st.TVGID, st.StationID),
				Name:      st.Name,
				CallSign:  st.CallSign,
			})
		}
	}

	return dir, nil
}

func stationIDOrFallback(prefix, tvgID, fallback string) string {
	if tvgID != "" {
		return prefix + ":" + tvgID
	}
	return prefix + ":" + fallback
}
