// Package interop is the interoperability boundary between this
// module's own event.Event/event.Filter wire types and the wider
// go-nostr ecosystem's nostr.Event/nostr.Filter. Nothing in the
// acceptance pipeline or subscription engine imports go-nostr
// directly — they stay on this module's own types, as the teacher's
// relay.go did with its local_event package — but a collaborator that
// wants to speak the ecosystem's types (a relay-pool fanout, a CLI
// debugging tool) can convert at this boundary.
package interop

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/paul/glienicke/pkg/event"
)

// ToNostrEvent converts a local event to its go-nostr representation.
func ToNostrEvent(e *event.Event) *nostr.Event {
	if e == nil {
		return nil
	}

	ne := &nostr.Event{
		ID:        e.ID,
		PubKey:    e.PubKey,
		CreatedAt: nostr.Timestamp(e.CreatedAt),
		Kind:      e.Kind,
		Tags:      make(nostr.Tags, len(e.Tags)),
		Content:   e.Content,
		Sig:       e.Sig,
	}
	for i, tag := range e.Tags {
		ne.Tags[i] = nostr.Tag(tag)
	}
	return ne
}

// FromNostrEvent converts a go-nostr event to this module's local
// representation.
func FromNostrEvent(ne *nostr.Event) *event.Event {
	if ne == nil {
		return nil
	}

	e := &event.Event{
		ID:        ne.ID,
		PubKey:    ne.PubKey,
		CreatedAt: ne.CreatedAt.Time().Unix(),
		Kind:      ne.Kind,
		Tags:      make([][]string, len(ne.Tags)),
		Content:   ne.Content,
		Sig:       ne.Sig,
	}
	for i, tag := range ne.Tags {
		e.Tags[i] = []string(tag)
	}
	return e
}

// ToNostrFilter converts a local filter to its go-nostr
// representation.
func ToNostrFilter(f *event.Filter) *nostr.Filter {
	if f == nil {
		return nil
	}

	nf := &nostr.Filter{
		IDs:     f.IDs,
		Authors: f.Authors,
		Kinds:   f.Kinds,
		Tags:    make(nostr.TagMap),
	}

	if f.Since != nil {
		since := nostr.Timestamp(*f.Since)
		nf.Since = &since
	}
	if f.Until != nil {
		until := nostr.Timestamp(*f.Until)
		nf.Until = &until
	}
	if f.Limit != nil {
		nf.Limit = *f.Limit
	}
	for k, v := range f.Tags {
		nf.Tags[k] = v
	}

	return nf
}

// FromNostrFilter converts a go-nostr filter to this module's local
// representation.
func FromNostrFilter(nf *nostr.Filter) *event.Filter {
	if nf == nil {
		return nil
	}

	f := &event.Filter{
		IDs:     nf.IDs,
		Authors: nf.Authors,
		Kinds:   nf.Kinds,
		Tags:    make(map[string][]string),
	}

	if nf.Since != nil {
		since := nf.Since.Time().Unix()
		f.Since = &since
	}
	if nf.Until != nil {
		until := nf.Until.Time().Unix()
		f.Until = &until
	}
	if nf.Limit != 0 {
		limit := nf.Limit
		f.Limit = &limit
	}
	for k, v := range nf.Tags {
		f.Tags[k] = v
	}

	return f
}
