package portal

import "strconv"

// RawChannel is one channel entry as the portal's get_all_channels returns
// it, before C (tag normalization) or D (EPG matching) touch it.
type RawChannel struct {
	ChannelID string
	Name      string
	Number    string
	Genre     string
	GenreID   string
	Logo      string
	Cmd       string
}

// Genre is one entry from get_genres.
type Genre struct {
	GenreID string
	Name    string
}

// Profile is the result of get_profile, used to opportunistically refresh a
// MAC record's watchdog_timeout and playback_limit on token acquisition.
type Profile struct {
	WatchdogTimeoutSeconds int
	PlaybackLimit          int
	AccountStatus          string
}

// stringNum duck-types a JSON field that portals inconsistently send as a
// number or a numeric string (e.g. "number", "genre_id").
func stringNum(v interface{}) string {
	switch x := v.(type) {
	case float64:
		return strconv.Itoa(int(x))
	case string:
		return x
	default:
		return ""
	}
}

func intNum(v interface{}) int {
	switch x := v.(type) {
	case float64:
		return int(x)
	case int:
		return x
	default:
		return 0
	}
}

func str(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
