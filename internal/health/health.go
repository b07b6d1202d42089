// Package health implements a cheap portal reachability probe used ahead of
// a catalog refresh, so a dead portal produces one clear log line instead of
// the full refresh protocol's retry budget firing for every MAC. Adapted
// from the teacher's CheckProvider (plain GET, status check) but pointed at
// a Stalker portal's server/load.php instead of an M3U playlist URL.
package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/snapetech/stalkerproxy/internal/safeurl"
)

// CheckPortal issues a bare GET against baseURL's server/load.php (no
// action, no token) and reports whether the portal responded at all.
// Returns nil on any HTTP response (even an auth challenge) since reaching
// the portal is all this probe claims; GetToken still runs the real
// handshake afterward.
func CheckPortal(ctx context.Context, baseURL string) error {
	if !safeurl.IsHTTPOrHTTPS(baseURL) {
		return fmt.Errorf("portal url %q must be http or https", baseURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/server/load.php", nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("portal unreachable: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}
