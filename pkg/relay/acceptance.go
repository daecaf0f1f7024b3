package relay

import (
	"context"
	"log"
	"regexp"
	"strings"

	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/nips/nip09"
	"github.com/paul/glienicke/pkg/nips/nip40"
	"github.com/paul/glienicke/pkg/protocol"
	"github.com/paul/glienicke/pkg/verify"
)

// hexPubkeyPattern matches a well-formed 32-byte hex pubkey, used by
// the kind-3 contact-list check (spec.md §4.3 step 6).
var hexPubkeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// HandleEvent processes an EVENT message from a client: it applies
// the rate-limit/size guards ahead of the acceptance pipeline, then
// runs the ten-step pipeline from spec.md §4.3 and acknowledges the
// result. All persistence mutations for a single accepted event occur
// inside the single transaction storage.Store.Persist owns.
func (r *Relay) HandleEvent(ctx context.Context, c *protocol.Client, evt *event.Event) error {
	if !r.checkRateLimit(c.RemoteAddr(), "event") {
		c.SendOK(evt.ID, false, "rate-limited: too many events")
		return nil
	}

	if !r.validateEventSize(evt) {
		c.SendOK(evt.ID, false, "invalid: event too large")
		return nil
	}

	ok, reason, broadcast, err := r.acceptEvent(ctx, evt)
	if err != nil {
		log.Printf("accepting event %s: %v", evt.ID, err)
		c.SendOK(evt.ID, false, "error: database error")
		return nil
	}

	c.SendOK(evt.ID, ok, reason)

	if broadcast {
		r.registry.Broadcast(evt)
	}

	return nil
}

// acceptEvent runs the acceptance pipeline. It returns whether the
// event is acknowledged as accepted, the OK message reason (empty on
// plain success), and whether the event should be handed to the
// broadcast bus.
func (r *Relay) acceptEvent(ctx context.Context, evt *event.Event) (ok bool, reason string, broadcast bool, err error) {
	// Step 1: verify signature and id.
	if !verify.Verify(evt) {
		return false, "invalid: signature", false, nil
	}

	// Step 2: kind-5 deletions are always acknowledged successfully,
	// independent of how many e-tagged targets were actually deleted
	// (the deletion engine applies authorization per target).
	if evt.Kind == 5 {
		if err := nip09.HandleDeletion(ctx, r.store, evt); err != nil {
			return false, "error: database error", false, err
		}
		return true, "", false, nil
	}

	// Step 3: an event carrying any hyphenated tag name is rejected
	// as requiring the author's own authentication. Kept as the
	// broad, unreserved-tag-name reading per spec.md's Open Question.
	for _, tag := range evt.Tags {
		if len(tag) >= 1 && strings.Contains(tag[0], "-") {
			return false, "auth-required: this event may only be published by its author", false, nil
		}
	}

	// Step 4: ephemeral events are broadcast but never persisted.
	if evt.Classify() == event.KindEphemeral {
		return true, "", true, nil
	}

	// Step 5: an already-expired event is silently accepted: no
	// persistence, no broadcast, no error surfaced.
	if nip40.ShouldRejectEvent(evt) {
		return true, "", false, nil
	}

	// Step 6: kind-3 contact lists may only carry well-formed pubkeys
	// in their p-tags.
	if evt.Kind == 3 {
		for _, p := range evt.PTags() {
			if !hexPubkeyPattern.MatchString(p) {
				return false, "invalid: contact list p-tag has invalid pubkey format", false, nil
			}
		}
	}

	// Steps 7-9: persist. Store.Persist performs the atomic
	// delete-then-insert replacement for replaceable and
	// parameterized-replaceable kinds in one transaction, and is a
	// no-op for a duplicate id.
	if err := r.store.Persist(ctx, evt); err != nil {
		return false, "error: database error", false, err
	}

	// Step 10: successful persistence hands off to the broadcast bus.
	return true, "", true, nil
}
