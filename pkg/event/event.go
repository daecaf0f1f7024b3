// Package event defines the Nostr event and filter data model: the
// wire shapes, the kind-policy classifier, tag accessors, and the
// filter-matching algebra shared by live dispatch and storage oracles.
package event

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Event represents a Nostr event as defined in NIP-01.
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// Kind is the persistence-policy classification of an event's Kind
// field, derived per spec §3.
type Kind int

const (
	KindRegular Kind = iota
	KindEphemeral
	KindReplaceable
	KindParameterizedReplaceable
	KindDeletion
)

// Classify derives the persistence-policy class of an event from its
// numeric kind.
func Classify(kind int) Kind {
	switch {
	case kind == 5:
		return KindDeletion
	case kind == 0 || kind == 3:
		return KindReplaceable
	case kind >= 10000 && kind < 20000:
		return KindReplaceable
	case kind >= 20000 && kind < 30000:
		return KindEphemeral
	case kind >= 30000 && kind < 40000:
		return KindParameterizedReplaceable
	default:
		return KindRegular
	}
}

// Classify returns this event's persistence-policy class.
func (e *Event) Classify() Kind {
	return Classify(e.Kind)
}

// DTag returns the value of the first "d" tag, or "" if absent.
func (e *Event) DTag() string {
	for _, tag := range e.Tags {
		if len(tag) >= 1 && tag[0] == "d" {
			if len(tag) >= 2 {
				return tag[1]
			}
			return ""
		}
	}
	return ""
}

// ETags returns the values of every "e" tag, in tag order.
func (e *Event) ETags() []string {
	return e.tagValues("e")
}

// PTags returns the values of every "p" tag, in tag order.
func (e *Event) PTags() []string {
	return e.tagValues("p")
}

func (e *Event) tagValues(name string) []string {
	var values []string
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == name {
			values = append(values, tag[1])
		}
	}
	return values
}

// Expiration returns the parsed expiration timestamp from the first
// "expiration" tag, and whether one was present and parsable.
func (e *Event) Expiration() (int64, bool) {
	for _, tag := range e.Tags {
		if len(tag) >= 2 && tag[0] == "expiration" {
			ts, err := strconv.ParseInt(tag[1], 10, 64)
			if err != nil {
				return 0, false
			}
			return ts, true
		}
	}
	return 0, false
}

// ReplaceableKey identifies the (pubkey, kind) coordinate used to
// decide at-most-one-persisted-event for replaceable kinds.
type ReplaceableKey struct {
	PubKey string
	Kind   int
}

// ParameterizedKey identifies the (pubkey, kind, d-tag) coordinate
// used for parameterized-replaceable kinds.
type ParameterizedKey struct {
	PubKey string
	Kind   int
	DTag   string
}

// ReplaceableKey returns this event's replaceable coordinate.
func (e *Event) ReplaceableKey() ReplaceableKey {
	return ReplaceableKey{PubKey: e.PubKey, Kind: e.Kind}
}

// ParameterizedKey returns this event's parameterized-replaceable
// coordinate.
func (e *Event) ParameterizedKey() ParameterizedKey {
	return ParameterizedKey{PubKey: e.PubKey, Kind: e.Kind, DTag: e.DTag()}
}

// Supersedes reports whether e should replace existing under the
// newer-created_at-wins, lexicographically-smaller-id-tiebreak rule
// of spec §3/§4.3.
func (e *Event) Supersedes(existing *Event) bool {
	if e.CreatedAt != existing.CreatedAt {
		return e.CreatedAt > existing.CreatedAt
	}
	return e.ID < existing.ID
}

// Filter represents a subscription filter as defined in NIP-01.
type Filter struct {
	IDs     []string            `json:"ids,omitempty"`
	Authors []string            `json:"authors,omitempty"`
	Kinds   []int               `json:"kinds,omitempty"`
	Since   *int64              `json:"since,omitempty"`
	Until   *int64              `json:"until,omitempty"`
	Limit   *int                `json:"limit,omitempty"`
	Tags    map[string][]string `json:"-"`
}

// DefaultQueryLimit is applied to a historical query when a filter
// specifies no explicit limit.
const DefaultQueryLimit = 500

// EffectiveLimit returns the filter's limit, or DefaultQueryLimit if
// unset.
func (f *Filter) EffectiveLimit() int {
	if f.Limit != nil && *f.Limit > 0 {
		return *f.Limit
	}
	return DefaultQueryLimit
}

// UnmarshalJSON decodes a filter object, collecting any "#x" key into
// the Tags map alongside the typed fields.
func (f *Filter) UnmarshalJSON(data []byte) error {
	type alias Filter
	aux := &struct{ *alias }{alias: (*alias)(f)}
	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	for key, raw := range m {
		if len(key) > 1 && key[0] == '#' {
			tagName := key[1:]
			var values []string
			if err := json.Unmarshal(raw, &values); err != nil {
				return fmt.Errorf("invalid tag value for %s: %w", key, err)
			}
			if f.Tags == nil {
				f.Tags = make(map[string][]string)
			}
			f.Tags[tagName] = values
		}
	}

	return nil
}

// MarshalJSON encodes a filter, re-expanding the Tags map back into
// "#x" keys alongside the typed fields.
func (f *Filter) MarshalJSON() ([]byte, error) {
	type alias Filter

	base, err := json.Marshal((*alias)(f))
	if err != nil {
		return nil, err
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}

	for name, values := range f.Tags {
		raw, err := json.Marshal(values)
		if err != nil {
			return nil, err
		}
		m["#"+name] = raw
	}

	return json.Marshal(m)
}

// Matches reports whether e satisfies f, per spec §3's field-level
// match semantics. A filter with no fields set matches every event.
func Matches(f *Filter, e *Event) bool {
	if len(f.IDs) > 0 && !anyPrefix(f.IDs, e.ID) {
		return false
	}
	if len(f.Authors) > 0 && !anyPrefix(f.Authors, e.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsKind(f.Kinds, e.Kind) {
		return false
	}
	if f.Since != nil && e.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && e.CreatedAt > *f.Until {
		return false
	}
	for tagName, want := range f.Tags {
		if !e.hasAnyTagValue(tagName, want) {
			return false
		}
	}
	return true
}

// Matches reports whether e satisfies f; a thin method form of the
// package-level Matches, used as the shared oracle for live dispatch
// and storage query post-filtering.
func (f *Filter) Matches(e *Event) bool {
	return Matches(f, e)
}

// Matches reports whether e satisfies f; the event-receiver form of
// the package-level Matches.
func (e *Event) Matches(f *Filter) bool {
	return Matches(f, e)
}

// MatchesAny reports whether e satisfies at least one filter in the
// OR'd set.
func MatchesAny(filters []*Filter, e *Event) bool {
	for _, f := range filters {
		if Matches(f, e) {
			return true
		}
	}
	return false
}

func (e *Event) hasAnyTagValue(name string, values []string) bool {
	for _, tag := range e.Tags {
		if len(tag) < 2 || tag[0] != name {
			continue
		}
		for _, v := range values {
			if tag[1] == v {
				return true
			}
		}
	}
	return false
}

func anyPrefix(prefixes []string, target string) bool {
	for _, p := range prefixes {
		if hasPrefix(target, p) {
			return true
		}
	}
	return false
}

func hasPrefix(target, prefix string) bool {
	if len(prefix) > len(target) {
		return false
	}
	return target[:len(prefix)] == prefix
}

func containsKind(kinds []int, kind int) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
