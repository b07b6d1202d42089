package m3ugen

import (
	"bytes"
	"strings"
	"testing"
)

func TestWrite_headerAndExtinfFormat(t *testing.T) {
	channels := []Channel{
		{PortalID: "p1", ChannelID: "c1", DisplayName: "News One", EPGID: "news1.local", Logo: "http://x/n.png", Number: "101", Group: "News"},
	}
	var buf bytes.Buffer
	if err := Write(&buf, channels, "http://example.com:8080"); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if lines[0] != "#EXTM3U" {
		t.Fatalf("first line = %q, want #EXTM3U", lines[0])
	}
	want := `#EXTINF:-1 tvg-id="news1.local" tvg-name="News One" tvg-logo="http://x/n.png" tvg-chno="101" group-title="News",News One`
	if lines[1] != want {
		t.Errorf("EXTINF line =\n%s\nwant\n%s", lines[1], want)
	}
	if lines[2] != "http://example.com:8080/play/p1/c1" {
		t.Errorf("stream url = %q", lines[2])
	}
}

func TestWrite_ordersByDisplayNameThenPortalThenChannel(t *testing.T) {
	channels := []Channel{
		{PortalID: "p2", ChannelID: "c1", DisplayName: "Zebra"},
		{PortalID: "p1", ChannelID: "c2", DisplayName: "Apple"},
		{PortalID: "p1", ChannelID: "c1", DisplayName: "Apple"},
	}
	var buf bytes.Buffer
	if err := Write(&buf, channels, "http://h"); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(buf.String(), "\n")
	// Expect: Apple/p1/c1, Apple/p1/c2, Zebra/p2/c1 — each channel occupies 2 lines after the header.
	if !strings.Contains(lines[2], "/play/p1/c1") {
		t.Errorf("first stream url = %q, want p1/c1 first (name tie broken by portal/channel id)", lines[2])
	}
	if !strings.Contains(lines[4], "/play/p1/c2") {
		t.Errorf("second stream url = %q, want p1/c2 second", lines[4])
	}
	if !strings.Contains(lines[6], "/play/p2/c1") {
		t.Errorf("third stream url = %q, want p2/c1 last (Zebra sorts after Apple)", lines[6])
	}
}

func TestWrite_stripsQuotesAndCommasFromAttributes(t *testing.T) {
	channels := []Channel{{PortalID: "p", ChannelID: "c", DisplayName: `News, "Live"`}}
	var buf bytes.Buffer
	if err := Write(&buf, channels, "http://h"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), `"Live"`) {
		t.Errorf("expected embedded quotes stripped:\n%s", buf.String())
	}
}

func TestWrite_publicHostTrailingSlashTrimmed(t *testing.T) {
	channels := []Channel{{PortalID: "p", ChannelID: "c", DisplayName: "X"}}
	var buf bytes.Buffer
	if err := Write(&buf, channels, "http://h/"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "http://h//play") {
		t.Errorf("expected no double slash:\n%s", buf.String())
	}
}
