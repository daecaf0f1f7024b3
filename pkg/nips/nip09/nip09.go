// Package nip09 implements the deletion engine: processing a kind-5
// event's e-tags against authorization rules that differ for
// gift-wrap targets (spec §4.5).
package nip09

import (
	"context"
	"errors"
	"log"

	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/storage"
)

// KindGiftWrap is the NIP-59 gift-wrap envelope kind; its deletion
// authorization rule differs from ordinary events (spec §4.5).
const KindGiftWrap = 1059

// HandleDeletion processes a kind-5 event's e-tags: each referenced
// event is looked up, and deleted only if the deletion event's author
// is authorized to delete it. Unauthorized or missing targets are
// silently skipped; the relay never surfaces per-target outcomes to
// the publisher (spec §4.5 — a kind-5 publish always succeeds at the
// protocol level, regardless of how many targets were deleted).
func HandleDeletion(ctx context.Context, store storage.Store, evt *event.Event) error {
	if evt.Kind != 5 {
		return nil
	}

	for _, targetID := range evt.ETags() {
		target, err := store.GetByID(ctx, targetID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			log.Printf("nip09: failed to look up deletion target %s: %v", targetID, err)
			continue
		}

		if !authorized(evt, target) {
			continue
		}

		if err := store.DeleteByID(ctx, targetID); err != nil {
			log.Printf("nip09: failed to delete %s: %v", targetID, err)
		}
	}

	return nil
}

// authorized implements spec §4.5's per-target authorization rule.
func authorized(deletion *event.Event, target *event.Event) bool {
	if target.Kind == KindGiftWrap {
		for _, p := range target.PTags() {
			if p == deletion.PubKey {
				return true
			}
		}
		return false
	}
	return target.PubKey == deletion.PubKey
}
