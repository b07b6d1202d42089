// Package portalerr defines the error taxonomy the core surfaces (§7):
// distinct kinds callers can branch on with errors.Is/errors.As, grounded on
// the teacher's *apiError pattern in internal/indexer/player_api.go.
package portalerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the taxonomy's error categories.
type Kind int

const (
	// KindUnreachable is a network/transport failure talking to a portal.
	// Retried by the Portal Client; surfaced after the retry budget.
	KindUnreachable Kind = iota
	// KindAuthFailed is a protocol-level auth failure (bad token, missing
	// token field, 401/403 on an authenticated call). Not retried.
	KindAuthFailed
	// KindThrottled is an HTTP 429/503 from the portal. Retried with backoff.
	KindThrottled
	// KindNoLink is a portal-returned sentinel null/empty cmd for a channel.
	// Triggers Dispatcher failover.
	KindNoLink
	// KindMACExpired is time-based; filtered out at scheduler selection.
	KindMACExpired
	// KindMACBusy means playback_limit is already reached; scheduler skips.
	KindMACBusy
	// KindCatalogConflict is a concurrent write attempt; the refresh that
	// hits it is coalesced, not failed.
	KindCatalogConflict
	// KindEPGParse is a malformed XMLTV element; the element is skipped and
	// refresh continues.
	KindEPGParse
	// KindStreamStartTimeout means FFmpeg produced no bytes within the
	// startup grace period. Triggers failover.
	KindStreamStartTimeout
)

func (k Kind) String() string {
	switch k {
	case KindUnreachable:
		return "PortalUnreachable"
	case KindAuthFailed:
		return "PortalAuthFailed"
	case KindThrottled:
		return "PortalThrottled"
	case KindNoLink:
		return "PortalNoLink"
	case KindMACExpired:
		return "MACExpired"
	case KindMACBusy:
		return "MACBusy"
	case KindCatalogConflict:
		return "CatalogConflict"
	case KindEPGParse:
		return "EPGParseError"
	case KindStreamStartTimeout:
		return "StreamStartTimeout"
	default:
		return "Unknown"
	}
}

// Error is a taxonomy error carrying enough context to log and to decide
// retry/failover behavior without string matching.
type Error struct {
	Kind    Kind
	PortalID string
	Detail  string
	Err     error // underlying cause, if any (network error, HTTP status, etc.)
}

func (e *Error) Error() string {
	if e.Detail == "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Kind, e.PortalID, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Kind, e.PortalID)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.PortalID, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.PortalID, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same Kind, so callers can
// write errors.Is(err, portalerr.Unreachable) against the sentinels below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds a taxonomy error for portalID.
func New(kind Kind, portalID, detail string, cause error) *Error {
	return &Error{Kind: kind, PortalID: portalID, Detail: detail, Err: cause}
}

// Sentinels for errors.Is(err, portalerr.Unreachable) style checks, where
// callers only care about Kind and don't need PortalID/Detail/Err.
var (
	Unreachable        = &Error{Kind: KindUnreachable}
	AuthFailed         = &Error{Kind: KindAuthFailed}
	Throttled          = &Error{Kind: KindThrottled}
	NoLink             = &Error{Kind: KindNoLink}
	MACExpired         = &Error{Kind: KindMACExpired}
	MACBusy            = &Error{Kind: KindMACBusy}
	CatalogConflict    = &Error{Kind: KindCatalogConflict}
	EPGParse           = &Error{Kind: KindEPGParse}
	StreamStartTimeout = &Error{Kind: KindStreamStartTimeout}
)

// Retryable reports whether A's retry policy should retry this error kind:
// only PortalUnreachable and PortalThrottled are retried (§4.A).
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == KindUnreachable || e.Kind == KindThrottled
}
