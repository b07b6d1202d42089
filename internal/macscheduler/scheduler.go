// Package macscheduler implements component H: given a portal's MACs and
// the live session table's busy counts, produce an ordered list of MACs to
// try for a channel. Deliberately decoupled from catalogdb/dispatcher types
// — it only knows about the MAC shape it needs to score, so either caller
// can adapt its own records into a macscheduler.MAC without an import
// cycle.
package macscheduler

import (
	"sort"
	"time"
)

// Weights, per spec §4.H.
const (
	WeightIdle   = 1.0
	WeightSlots  = 0.6
	WeightExpiry = 0.4
)

// MAC is the minimal shape macscheduler needs to score one credential.
type MAC struct {
	Address                string
	WatchdogTimeoutSeconds int
	PlaybackLimit          int // 0 means "unknown", treated as a hard cap of 1
	ExpiresAt              *time.Time
}

// EffectiveLimit returns PlaybackLimit, or 1 if it is 0 (unknown), matching
// spec §4.H's "if playback_limit=0, treat as 1".
func (m MAC) EffectiveLimit() int {
	if m.PlaybackLimit <= 0 {
		return 1
	}
	return m.PlaybackLimit
}

// BusyLookup reports how many active sessions the dispatcher's in-memory
// session table currently accounts against a MAC.
type BusyLookup func(mac string) int

// fIdle implements the piecewise watchdog-idleness function from §4.H.
func fIdle(watchdogSeconds int) float64 {
	switch {
	case watchdogSeconds < 60:
		return 0
	case watchdogSeconds < 300:
		return 0.3
	case watchdogSeconds < 1800:
		return 0.7
	default:
		return 1.0
	}
}

// closenessToExpiry is 0 for a MAC with no known expiry (neutral: an
// unknown expiry is never treated as "close"), rising toward 1 as
// ExpiresAt approaches now. This isn't pinned by the spec (an Open
// Question); see DESIGN.md for the chosen shape.
func closenessToExpiry(m MAC, now time.Time) float64 {
	if m.ExpiresAt == nil {
		return 0
	}
	daysUntil := m.ExpiresAt.Sub(now).Hours() / 24
	if daysUntil <= 0 {
		return 1
	}
	return 1 / (1 + daysUntil)
}

// scored pairs a MAC with its score and the tie-break fields, so Select can
// sort without recomputing.
type scored struct {
	mac       MAC
	score     float64
	freeSlots int
}

// Score computes one MAC's selection score per spec §4.H.
func Score(m MAC, freeSlots int, now time.Time) float64 {
	slotsTerm := float64(freeSlots) / float64(m.EffectiveLimit())
	return WeightIdle*fIdle(m.WatchdogTimeoutSeconds) +
		WeightSlots*slotsTerm -
		WeightExpiry*closenessToExpiry(m, now)
}

// Select returns macs ordered best-first for a playback request. MACs that
// are expired or busy (active sessions >= effective playback limit) are
// excluded entirely, not merely scored down.
func Select(macs []MAC, busy BusyLookup, now time.Time) []MAC {
	var candidates []scored
	for _, m := range macs {
		if m.ExpiresAt != nil && !m.ExpiresAt.After(now) {
			continue // MACExpired
		}
		active := 0
		if busy != nil {
			active = busy(m.Address)
		}
		limit := m.EffectiveLimit()
		if active >= limit {
			continue // MACBusy
		}
		free := limit - active
		candidates = append(candidates, scored{
			mac:       m,
			score:     Score(m, free, now),
			freeSlots: free,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.freeSlots != b.freeSlots {
			return a.freeSlots > b.freeSlots
		}
		aExp, bExp := expiryOrZero(a.mac), expiryOrZero(b.mac)
		if !aExp.Equal(bExp) {
			return aExp.After(bExp) // later expiry wins
		}
		return a.mac.Address < b.mac.Address // lexicographic MAC
	})

	out := make([]MAC, len(candidates))
	for i, c := range candidates {
		out[i] = c.mac
	}
	return out
}

func expiryOrZero(m MAC) time.Time {
	if m.ExpiresAt == nil {
		return time.Time{}
	}
	return *m.ExpiresAt
}
