package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckPortal_ok(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	if err := CheckPortal(context.Background(), srv.URL); err != nil {
		t.Fatalf("CheckPortal: %v", err)
	}
}

func TestCheckPortal_rejectsNonHTTPScheme(t *testing.T) {
	if err := CheckPortal(context.Background(), "file:///etc/passwd"); err == nil {
		t.Fatal("expected error for non-http(s) scheme")
	}
}

func TestCheckPortal_unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close() // now genuinely unreachable
	if err := CheckPortal(context.Background(), addr); err == nil {
		t.Fatal("expected error for unreachable portal")
	}
}
