package epg

import (
	"encoding/xml"
	"errors"
	"io"
	"os"
	"strings"
	"time"
)

// Channel is one <channel> element, grounded on the teacher's
// epglink.ParseXMLTVChannels decode-by-token-then-DecodeElement approach.
type Channel struct {
	ID           string
	DisplayNames []string
	Icon         string
	LCN          string
}

// Programme is one <programme> element.
type Programme struct {
	ChannelID   string
	Start       time.Time
	Stop        time.Time
	Title       string
	SubTitle    string
	Description string
	Categories  []string
	EpisodeNum  string
	Rating      string
	Icon        string
}

// parseChannels streams path once, extracting every <channel> element.
func parseChannels(path string) ([]Channel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type displayName struct {
		Text string `xml:",chardata"`
	}
	type iconNode struct {
		Src string `xml:"src,attr"`
	}
	type channelNode struct {
		ID           string        `xml:"id,attr"`
		DisplayNames []displayName `xml:"display-name"`
		Icon         iconNode      `xml:"icon"`
		LCN          string        `xml:"lcn"`
	}

	dec := xml.NewDecoder(f)
	var out []Channel
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "channel" {
			continue
		}
		var node channelNode
		if err := dec.DecodeElement(&node, &se); err != nil {
			return nil, err
		}
		id := strings.TrimSpace(node.ID)
		if id == "" {
			continue
		}
		ch := Channel{ID: id, Icon: node.Icon.Src, LCN: strings.TrimSpace(node.LCN)}
		for _, dn := range node.DisplayNames {
			if name := strings.TrimSpace(dn.Text); name != "" {
				ch.DisplayNames = append(ch.DisplayNames, name)
			}
		}
		out = append(out, ch)
	}
	return out, nil
}

// programmeSink receives parsed programmes in order, so the caller can
// batch-insert without holding the whole file in memory.
type programmeSink func(Programme) error

// parseProgrammes streams path once, calling sink for every <programme>
// element. Malformed start/stop timestamps are skipped (KindEPGParse,
// logged by the caller), not fatal to the refresh.
func parseProgrammes(path string, onParseError func(error), sink programmeSink) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	type categoryNode struct {
		Text string `xml:",chardata"`
	}
	type subTitleNode struct {
		Text string `xml:",chardata"`
	}
	type titleNode struct {
		Text string `xml:",chardata"`
	}
	type descNode struct {
		Text string `xml:",chardata"`
	}
	type iconNode struct {
		Src string `xml:"src,attr"`
	}
	type episodeNumNode struct {
		Text string `xml:",chardata"`
	}
	type ratingNode struct {
		Value string `xml:"value"`
	}
	type programmeNode struct {
		Channel     string           `xml:"channel,attr"`
		Start       string           `xml:"start,attr"`
		Stop        string           `xml:"stop,attr"`
		Titles      []titleNode      `xml:"title"`
		SubTitles   []subTitleNode   `xml:"sub-title"`
		Descs       []descNode       `xml:"desc"`
		Categories  []categoryNode   `xml:"category"`
		EpisodeNums []episodeNumNode `xml:"episode-num"`
		Icon        iconNode         `xml:"icon"`
		Rating      ratingNode       `xml:"rating"`
	}

	dec := xml.NewDecoder(f)
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return err
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "programme" {
			continue
		}
		var node programmeNode
		if err := dec.DecodeElement(&node, &se); err != nil {
			if onParseError != nil {
				onParseError(err)
			}
			continue
		}
		start, err := parseXMLTVTime(node.Start)
		if err != nil {
			if onParseError != nil {
				onParseError(err)
			}
			continue
		}
		stop, err := parseXMLTVTime(node.Stop)
		if err != nil {
			if onParseError != nil {
				onParseError(err)
			}
			continue
		}
		p := Programme{
			ChannelID: strings.TrimSpace(node.Channel),
			Start:     start,
			Stop:      stop,
			Icon:      node.Icon.Src,
			Rating:    strings.TrimSpace(node.Rating.Value),
		}
		if len(node.Titles) > 0 {
			p.Title = strings.TrimSpace(node.Titles[0].Text)
		}
		if len(node.SubTitles) > 0 {
			p.SubTitle = strings.TrimSpace(node.SubTitles[0].Text)
		}
		if len(node.Descs) > 0 {
			p.Description = strings.TrimSpace(node.Descs[0].Text)
		}
		if len(node.EpisodeNums) > 0 {
			p.EpisodeNum = strings.TrimSpace(node.EpisodeNums[0].Text)
		}
		for _, c := range node.Categories {
			if v := strings.TrimSpace(c.Text); v != "" {
				p.Categories = append(p.Categories, v)
			}
		}
		if p.ChannelID == "" {
			continue
		}
		if err := sink(p); err != nil {
			return err
		}
	}
	return nil
}

// xmltvTimeLayouts covers the common XMLTV timestamp shapes: with and
// without a zone offset, with and without seconds.
var xmltvTimeLayouts = []string{
	"20060102150405 -0700",
	"20060102150405-0700",
	"200601021504 -0700",
	"20060102150405",
}

func parseXMLTVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errMissingTimestamp
	}
	var lastErr error
	for _, layout := range xmltvTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

var errMissingTimestamp = timeParseError("empty xmltv timestamp")

type timeParseError string

func (e timeParseError) Error() string { return string(e) }
