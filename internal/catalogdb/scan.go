package catalogdb

import (
	"database/sql"
	"encoding/json"
	"time"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChannelRow(row rowScanner) (Channel, error) {
	var c Channel
	var eventTagsJSON, miscTagsJSON, alternateIDsJSON string
	var isHeader, isEvent, isRaw, enabled, priorEnabled int
	var softDeletedAt sql.NullString
	err := row.Scan(
		&c.PortalID, &c.ChannelID, &c.Name, &c.Number, &c.Genre, &c.GenreID, &c.Logo, &c.Cmd,
		&c.AutoName, &c.DisplayName, &c.Resolution, &c.VideoCodec, &c.Country, &eventTagsJSON, &miscTagsJSON,
		&isHeader, &isEvent, &isRaw,
		&c.CustomName, &c.CustomNumber, &c.CustomGenre, &c.CustomEPGID, &enabled, &priorEnabled,
		&c.MatchedName, &c.MatchedSource, &c.MatchedStationID, &c.MatchedCallSign, &c.MatchedLogo, &c.MatchedScore,
		&alternateIDsJSON, &c.ChannelHash, &softDeletedAt,
	)
	if err != nil {
		return Channel{}, err
	}
	c.IsHeader = isHeader != 0
	c.IsEvent = isEvent != 0
	c.IsRaw = isRaw != 0
	c.Enabled = enabled != 0
	c.PriorEnabled = priorEnabled != 0
	c.EventTags = decodeStringSlice(eventTagsJSON)
	c.MiscTags = decodeStringSlice(miscTagsJSON)
	c.AlternateIDs = decodeStringSlice(alternateIDsJSON)
	c.SoftDeletedAt = nullStringToTime(softDeletedAt)
	return c, nil
}

func scanChannels(rows *sql.Rows) ([]Channel, error) {
	var out []Channel
	for rows.Next() {
		c, err := scanChannelRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func decodeStringSlice(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}

func encodeStringSlice(s []string) string {
	if len(s) == 0 {
		return "[]"
	}
	b, err := json.Marshal(s)
	if err != nil {
		return "[]"
	}
	return string(b)
}

const timeLayout = time.RFC3339

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(timeLayout), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := time.Parse(timeLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
