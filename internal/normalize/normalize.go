// Package normalize implements component C: a pure, deterministic
// raw-name-to-tags transform. It ships no built-in rules — the caller
// supplies the (tag_group, pattern) rules; cmd/stalkerproxy passes one stock
// set to every portal — in the same spirit as the teacher's internal/catalog
// classifyVOD heuristics, but table-driven instead of hardcoded.
package normalize

import (
	"regexp"
	"strings"
)

// Rule is one (tag_group, pattern, extraction) tuple. Pattern is matched
// against the working name; if it has a capture group, the first captured
// group is the tag value, otherwise the whole match is. The matched
// substring is always removed from the working name.
type Rule struct {
	TagGroup string
	Pattern  *regexp.Regexp
}

const (
	GroupResolution = "resolution"
	GroupCodec      = "video_codec"
	GroupCountry    = "country"
	GroupAudio      = "audio"
	GroupEvent      = "event"
	GroupMisc       = "misc"
)

// Result is the normalizer's output for one raw name.
type Result struct {
	DisplayName string
	Tags        map[string][]string
	IsHeader    bool
	IsRaw       bool
	IsEvent     bool
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)

	decorativeRun = regexp.MustCompile(`^[^\p{L}\p{N}]{6,}`)

	rawToken = regexp.MustCompile(`(?i)\bRAW\b`)

	fancyBrackets = strings.NewReplacer(
		"［", "[", "］", "]",
		"【", "[", "】", "]",
		"〔", "[", "〕", "]",
		"（", "(", "）", ")",
	)
)

// Apply runs the §4.C algorithm against one raw name, returning the cleaned
// auto_name, its extracted tags, and the header/raw/event flags. The raw
// name argument is never modified; auto_name is always a fresh string, so
// callers never mistake it for the original name field.
func Apply(rawName string, rules []Rule) Result {
	working := collapseWhitespace(foldBracketedDecorations(rawName))

	tags := make(map[string][]string)
	for _, r := range rules {
		if r.Pattern == nil {
			continue
		}
		working, tags = extractRule(working, r, tags)
	}
	working = collapseWhitespace(working)

	isHeader := detectHeader(working)
	isEvent := len(tags[GroupEvent]) > 0
	isRaw := rawToken.MatchString(working)

	return Result{
		DisplayName: working,
		Tags:        tags,
		IsHeader:    isHeader,
		IsRaw:       isRaw,
		IsEvent:     isEvent,
	}
}

func extractRule(working string, r Rule, tags map[string][]string) (string, map[string][]string) {
	loc := r.Pattern.FindStringSubmatchIndex(working)
	if loc == nil {
		return working, tags
	}
	var value string
	if len(loc) >= 4 && loc[2] >= 0 {
		value = working[loc[2]:loc[3]]
	} else {
		value = working[loc[0]:loc[1]]
	}
	value = strings.TrimSpace(value)
	if value != "" {
		tags[r.TagGroup] = append(tags[r.TagGroup], value)
	}
	working = working[:loc[0]] + " " + working[loc[1]:]
	return working, tags
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

func foldBracketedDecorations(s string) string {
	return fancyBrackets.Replace(s)
}

// detectHeader implements §4.C step 3: symmetric decorative framing, or at
// least 6 decorative (non letter/digit) characters on both ends.
func detectHeader(s string) bool {
	runes := []rune(s)
	if len(runes) == 0 {
		return false
	}
	if frame := matchSymmetricFraming(runes); frame {
		return true
	}
	if !decorativeRun.MatchString(s) {
		return false
	}
	reversed := reverseString(s)
	return decorativeRun.MatchString(reversed)
}

func matchSymmetricFraming(runes []rune) bool {
	const decorSet = "#*✦┃★~=_-"
	i, j := 0, len(runes)-1
	for i < len(runes) && strings.ContainsRune(decorSet, runes[i]) {
		i++
	}
	if i < 2 {
		return false
	}
	leadCount := i
	for j >= 0 && strings.ContainsRune(decorSet, runes[j]) {
		j--
	}
	trailCount := len(runes) - 1 - j
	if trailCount < 2 {
		return false
	}
	return leadCount >= 2 && trailCount >= 2 && j > i
}

func reverseString(s string) string {
	runes := []rune(s)
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
