package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetToken_success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("action") != "handshake" {
			t.Errorf("unexpected action: %s", r.URL.Query().Get("action"))
		}
		if r.Header.Get("Cookie") == "" {
			t.Errorf("expected Cookie header carrying MAC")
		}
		fmt.Fprint(w, `{"js": {"token": "abc123"}}`)
	}))
	defer srv.Close()

	c, err := New("p1", srv.URL, "00:1A:79:AA:BB:CC", "UTC", "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	token, err := c.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if token != "abc123" {
		t.Errorf("GetToken() = %q, want abc123", token)
	}
}

func TestGetToken_authFailedNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := New("p1", srv.URL, "00:1A:79:AA:BB:CC", "UTC", "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.GetToken(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("PortalAuthFailed should not be retried; calls = %d", calls)
	}
}

func TestGetToken_throttledThenSucceeds(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"js": {"token": "retried-token"}}`)
	}))
	defer srv.Close()

	c, err := New("p1", srv.URL, "00:1A:79:AA:BB:CC", "UTC", "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	token, err := c.GetToken(context.Background())
	if err != nil {
		t.Fatalf("GetToken() error = %v", err)
	}
	if token != "retried-token" || calls != 2 {
		t.Errorf("token=%q calls=%d, want retried-token/2", token, calls)
	}
}

func TestGetLink_sentinelYieldsNoLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"js": {"cmd": ""}}`)
	}))
	defer srv.Close()

	c, err := New("p1", srv.URL, "00:1A:79:AA:BB:CC", "UTC", "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.GetLink(context.Background(), "chan1", "ffmpeg http://origin/chan1")
	if err == nil {
		t.Fatal("expected PortalNoLink error")
	}
}

func TestGetLink_extractsURLFromFfmpegCmd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"js": {"cmd": "ffmpeg http://origin.example/stream/chan1.m3u8"}}`)
	}))
	defer srv.Close()

	c, err := New("p1", srv.URL, "00:1A:79:AA:BB:CC", "UTC", "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	link, err := c.GetLink(context.Background(), "chan1", "ffmpeg http://origin.example/stream/chan1.m3u8")
	if err != nil {
		t.Fatalf("GetLink() error = %v", err)
	}
	if link != "http://origin.example/stream/chan1.m3u8" {
		t.Errorf("GetLink() = %q", link)
	}
}

func TestGetAllChannels_paginatesAndDedupes(t *testing.T) {
	pages := [][]string{
		{"1", "2", "3"},
		{"3", "4"}, // 3 repeats across pages; server keeps returning non-empty data
		{},         // stops here
	}
	call := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := pages[call]
		call++
		var items []string
		for _, id := range page {
			items = append(items, fmt.Sprintf(`{"id": "%s", "name": "Channel %s"}`, id, id))
		}
		fmt.Fprintf(w, `{"js": {"data": [%s], "total_items": 4}}`, joinJSON(items))
	}))
	defer srv.Close()

	c, err := New("p1", srv.URL, "00:1A:79:AA:BB:CC", "UTC", "", time.Second)
	if err != nil {
		t.Fatal(err)
	}
	channels, err := c.GetAllChannels(context.Background())
	if err != nil {
		t.Fatalf("GetAllChannels() error = %v", err)
	}
	if len(channels) != 4 {
		t.Fatalf("GetAllChannels() len = %d, want 4 (deduped)", len(channels))
	}
}

func joinJSON(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ","
		}
		out += it
	}
	return out
}
