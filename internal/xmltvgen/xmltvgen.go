// Package xmltvgen implements component F: joins the catalog's enabled
// channels with the per-source programme databases maintained by
// internal/epg into one streamed, merged XMLTV document. Streaming
// emission (manual tag writes rather than buffering an xml.Encoder tree)
// is grounded on the teacher's internal/tuner/xmltv.go appendDummyGuide,
// which writes XMLTV elements with fmt.Fprintf + a small escape helper
// instead of marshaling a struct, so output never sits fully in memory.
package xmltvgen

import (
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Channel is the emitter's view of one catalog channel, already resolved
// to its effective fields.
type Channel struct {
	EPGID            string
	DisplayName      string
	Icon             string
	LCN              string
	PortalID         string
	ChannelID        string
	EPGOffsetMinutes int
}

// SourceRef names one EPG source's backing programme database, in the
// priority order resolution should try them.
type SourceRef struct {
	SourceID string
	DBPath   string
}

// ResolvedChannel is the outcome of resolving a channel's effective_epg_id
// against one source's epg_channels/epg_channel_names tables.
type ResolvedChannel struct {
	SourceID  string
	ChannelID string
}

// Window bounds which programmes get emitted, so a feed with years of
// history doesn't get merged wholesale.
type Window struct {
	From time.Time
	To   time.Time
}

// Write streams a complete XMLTV document to w: a <channel> element per
// entry in channels (not de-duplicated by id), then <programme> elements pulled from whichever
// source resolves each channel's id, in the order §4.F specifies.
func Write(w io.Writer, channels []Channel, sources []SourceRef, resolve func(sourceID, epgID string) (ResolvedChannel, bool, error), window Window) error {
	bw := &errWriter{w: w}
	bw.printf(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	bw.printf(`<tv generator-info-name="stalkerproxy">` + "\n")

	resolved := make(map[string]ResolvedChannel, len(channels))
	for _, c := range channels {
		bw.printf("  <channel id=%q>\n", escape(c.EPGID))
		bw.printf("    <display-name>%s</display-name>\n", escape(c.DisplayName))
		if c.Icon != "" {
			bw.printf("    <icon src=%q/>\n", escape(c.Icon))
		}
		if c.LCN != "" {
			bw.printf("    <lcn>%s</lcn>\n", escape(c.LCN))
		}
		bw.printf("  </channel>\n")

		for _, src := range sources {
			rc, ok, err := resolve(src.SourceID, c.EPGID)
			if err != nil {
				return fmt.Errorf("xmltvgen: resolve %s against %s: %w", c.EPGID, src.SourceID, err)
			}
			if ok {
				resolved[c.EPGID] = rc
				break
			}
		}
	}

	bySource := map[string][]Channel{}
	for _, c := range channels {
		rc, ok := resolved[c.EPGID]
		if !ok {
			continue // tier (iii): no source resolves this channel, no programmes
		}
		bySource[rc.SourceID] = append(bySource[rc.SourceID], c)
	}

	for _, src := range sources {
		group := bySource[src.SourceID]
		if len(group) == 0 {
			continue
		}
		if err := writeSourceProgrammes(bw, src, group, resolved, window); err != nil {
			return err
		}
	}

	bw.printf("</tv>\n")
	return bw.err
}

func writeSourceProgrammes(bw *errWriter, src SourceRef, group []Channel, resolved map[string]ResolvedChannel, window Window) error {
	db, err := sql.Open("sqlite", "file:"+src.DBPath+"?mode=ro")
	if err != nil {
		return fmt.Errorf("xmltvgen: open %s: %w", src.DBPath, err)
	}
	defer db.Close()

	for _, c := range group {
		rc := resolved[c.EPGID]
		rows, err := db.Query(`
			SELECT start_ts, stop_ts, title, sub_title, description, categories, episode_num, rating, programme_icon
			FROM programmes WHERE channel_id = ? AND start_ts >= ? AND start_ts < ?
			ORDER BY start_ts`, rc.ChannelID, window.From.Unix(), window.To.Unix())
		if err != nil {
			return fmt.Errorf("xmltvgen: query programmes for %s: %w", c.EPGID, err)
		}
		err = writeRows(bw, rows, c)
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeRows(bw *errWriter, rows *sql.Rows, c Channel) error {
	offset := time.Duration(c.EPGOffsetMinutes) * time.Minute
	for rows.Next() {
		var startTs, stopTs int64
		var title, subTitle, description, categoriesJSON, episodeNum, rating, icon string
		if err := rows.Scan(&startTs, &stopTs, &title, &subTitle, &description, &categoriesJSON, &episodeNum, &rating, &icon); err != nil {
			return fmt.Errorf("xmltvgen: scan programme row: %w", err)
		}
		start := time.Unix(startTs, 0).UTC().Add(offset)
		stop := time.Unix(stopTs, 0).UTC().Add(offset)

		bw.printf("  <programme start=%q stop=%q channel=%q>\n",
			start.Format("20060102150405 +0000"), stop.Format("20060102150405 +0000"), escape(c.EPGID))
		if title != "" {
			bw.printf("    <title>%s</title>\n", escape(title))
		}
		if subTitle != "" {
			bw.printf("    <sub-title>%s</sub-title>\n", escape(subTitle))
		}
		if description != "" {
			bw.printf("    <desc>%s</desc>\n", escape(description))
		}
		for _, cat := range decodeCategories(categoriesJSON) {
			bw.printf("    <category>%s</category>\n", escape(cat))
		}
		if episodeNum != "" {
			bw.printf("    <episode-num>%s</episode-num>\n", escape(episodeNum))
		}
		if rating != "" {
			bw.printf("    <rating><value>%s</value></rating>\n", escape(rating))
		}
		if icon != "" {
			bw.printf("    <icon src=%q/>\n", escape(icon))
		}
		bw.printf("  </programme>\n")
	}
	return rows.Err()
}

// decodeCategories parses the minimal JSON string-array format the
// programme store writes, avoiding a full encoding/json round trip for a
// hot emission path.
func decodeCategories(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "[]" {
		return nil
	}
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func escape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// errWriter lets the streaming writes above ignore per-call errors and
// check once at the end, the way bufio.Writer callers usually do.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...interface{}) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
