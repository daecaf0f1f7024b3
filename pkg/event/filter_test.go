package event_test

import (
	"encoding/json"
	"testing"

	"github.com/paul/glienicke/pkg/event"
)

func TestFilterJSONRoundTrip(t *testing.T) {
	limit := 10
	since := int64(100)
	f := &event.Filter{
		Authors: []string{"abc"},
		Kinds:   []int{1, 2},
		Since:   &since,
		Limit:   &limit,
		Tags:    map[string][]string{"e": {"deadbeef"}, "p": {"feedface"}},
	}

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded event.Filter
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(decoded.Authors) != 1 || decoded.Authors[0] != "abc" {
		t.Errorf("Authors round-trip failed: %v", decoded.Authors)
	}
	if decoded.Limit == nil || *decoded.Limit != limit {
		t.Errorf("Limit round-trip failed: %v", decoded.Limit)
	}
	if decoded.Tags["e"][0] != "deadbeef" || decoded.Tags["p"][0] != "feedface" {
		t.Errorf("Tags round-trip failed: %v", decoded.Tags)
	}
}

func TestFilterUnmarshalGenericTags(t *testing.T) {
	raw := []byte(`{"kinds":[1],"#e":["aaa","bbb"],"#p":["ccc"]}`)

	var f event.Filter
	if err := json.Unmarshal(raw, &f); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if len(f.Kinds) != 1 || f.Kinds[0] != 1 {
		t.Errorf("Kinds = %v", f.Kinds)
	}
	if len(f.Tags["e"]) != 2 || len(f.Tags["p"]) != 1 {
		t.Errorf("Tags = %v", f.Tags)
	}
}

func TestEffectiveLimit(t *testing.T) {
	f := &event.Filter{}
	if got := f.EffectiveLimit(); got != event.DefaultQueryLimit {
		t.Errorf("EffectiveLimit() with no limit = %d, want %d", got, event.DefaultQueryLimit)
	}

	limit := 3
	f.Limit = &limit
	if got := f.EffectiveLimit(); got != 3 {
		t.Errorf("EffectiveLimit() = %d, want 3", got)
	}
}

func TestMatchesAny(t *testing.T) {
	evt := &event.Event{Kind: 1, PubKey: "abc"}
	filters := []*event.Filter{
		{Kinds: []int{2}},
		{Authors: []string{"abc"}},
	}
	if !event.MatchesAny(filters, evt) {
		t.Errorf("MatchesAny should match the second filter")
	}

	noMatch := []*event.Filter{{Kinds: []int{99}}}
	if event.MatchesAny(noMatch, evt) {
		t.Errorf("MatchesAny should not match")
	}
}
