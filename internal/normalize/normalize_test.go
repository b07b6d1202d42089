package normalize

import (
	"regexp"
	"testing"
)

func TestApply_extractsTagsAndRemovesSubstring(t *testing.T) {
	rules := []Rule{
		{TagGroup: GroupResolution, Pattern: regexp.MustCompile(`\b(FHD|HD|SD|4K)\b`)},
		{TagGroup: GroupCountry, Pattern: regexp.MustCompile(`\b(UK|US|CA)\b`)},
	}
	res := Apply("UK: BBC One FHD", rules)
	if res.DisplayName != "UK: BBC One" && res.DisplayName != ": BBC One" {
		t.Fatalf("unexpected display name %q", res.DisplayName)
	}
	if len(res.Tags[GroupResolution]) != 1 || res.Tags[GroupResolution][0] != "FHD" {
		t.Fatalf("expected FHD tag, got %v", res.Tags[GroupResolution])
	}
}

func TestApply_neverOverwritesOriginal(t *testing.T) {
	raw := "###  Sports  ###"
	res := Apply(raw, nil)
	if raw != "###  Sports  ###" {
		t.Fatalf("input mutated: %q", raw)
	}
	if res.DisplayName == raw {
		t.Fatalf("expected cleaned display name to differ from framed raw input")
	}
}

func TestApply_detectsHeaderBySymmetricFraming(t *testing.T) {
	res := Apply("### SPORTS ###", nil)
	if !res.IsHeader {
		t.Fatalf("expected header detection for symmetric framing")
	}
}

func TestApply_detectsHeaderByDecorativeRun(t *testing.T) {
	res := Apply("------ MOVIES ------", nil)
	if !res.IsHeader {
		t.Fatalf("expected header detection for decorative run")
	}
}

func TestApply_plainNameIsNotHeader(t *testing.T) {
	res := Apply("BBC One HD", []Rule{{TagGroup: GroupResolution, Pattern: regexp.MustCompile(`\bHD\b`)}})
	if res.IsHeader {
		t.Fatalf("did not expect header for plain channel name")
	}
}

func TestApply_detectsRawToken(t *testing.T) {
	res := Apply("Sky Sports RAW Feed", nil)
	if !res.IsRaw {
		t.Fatalf("expected is_raw for surviving RAW token")
	}
}

func TestApply_detectsEventFromEventGroupRule(t *testing.T) {
	rules := []Rule{{TagGroup: GroupEvent, Pattern: regexp.MustCompile(`PPV`)}}
	res := Apply("Boxing PPV Main Card", rules)
	if !res.IsEvent {
		t.Fatalf("expected is_event when an event-group rule matched")
	}
}

func TestApply_collapsesWhitespace(t *testing.T) {
	res := Apply("  BBC    One   ", nil)
	if res.DisplayName != "BBC One" {
		t.Fatalf("expected collapsed whitespace, got %q", res.DisplayName)
	}
}
