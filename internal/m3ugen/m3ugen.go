// Package m3ugen implements component G: a stable-ordered M3U playlist
// pointing back at this proxy's own /play endpoint. Grounded on the
// teacher's internal/tuner/m3u.go (EXTM3U/EXTINF writer, attribute
// escaping via escapeM3UAttr), extended with the spec's tvg-logo/tvg-chno
// /group-title attributes and stable sort order.
package m3ugen

import (
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

// attr strips characters that would break the quoted-attribute or
// trailing-name grammar of an #EXTINF line (quotes and commas), the way
// the teacher's escapeM3UAttr keeps names on one line.
func attr(s string) string {
	s = strings.ReplaceAll(s, `"`, "")
	s = strings.ReplaceAll(s, ",", " ")
	return s
}

// Channel is the emitter's view of one enabled catalog channel.
type Channel struct {
	PortalID    string
	ChannelID   string
	DisplayName string
	EPGID       string
	Logo        string
	Number      string
	Group       string
}

// Write emits a complete M3U playlist to w: channels ordered by
// effective_display_name, tie-broken by (portal_id, channel_id) for a
// stable result across refreshes that don't change names.
func Write(w io.Writer, channels []Channel, publicHost string) error {
	ordered := make([]Channel, len(channels))
	copy(ordered, channels)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.DisplayName != b.DisplayName {
			return a.DisplayName < b.DisplayName
		}
		if a.PortalID != b.PortalID {
			return a.PortalID < b.PortalID
		}
		return a.ChannelID < b.ChannelID
	})

	base := strings.TrimSuffix(publicHost, "/")
	if _, err := io.WriteString(w, "#EXTM3U\n"); err != nil {
		return err
	}
	for _, c := range ordered {
		name := attr(c.DisplayName)
		line := fmt.Sprintf(
			"#EXTINF:-1 tvg-id=\"%s\" tvg-name=\"%s\" tvg-logo=\"%s\" tvg-chno=\"%s\" group-title=\"%s\",%s\n",
			attr(c.EPGID), name, attr(c.Logo), attr(c.Number), attr(c.Group), name,
		)
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
		streamURL := fmt.Sprintf("%s/play/%s/%s\n", base, url.PathEscape(c.PortalID), url.PathEscape(c.ChannelID))
		if _, err := io.WriteString(w, streamURL); err != nil {
			return err
		}
	}
	return nil
}
