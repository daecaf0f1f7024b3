package nip09_test

import (
	"context"
	"testing"

	"github.com/paul/glienicke/internal/store/memory"
	"github.com/paul/glienicke/internal/testutil"
	"github.com/paul/glienicke/pkg/nips/nip09"
)

// Scenario B from spec §8: only the author may delete a regular event.
func TestHandleDeletion_AuthorOnly(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	author := testutil.MustGenerateKeyPair()
	stranger := testutil.MustGenerateKeyPair()

	target, _ := testutil.MustNewTestEvent(1, "mine", nil)
	target.PubKey = author.PubKeyHex
	if err := author.SignEvent(target); err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := store.Persist(ctx, target); err != nil {
		t.Fatalf("persist: %v", err)
	}

	strangerDeletion, _ := testutil.NewTestEventWithKey(stranger, 5, "", [][]string{{"e", target.ID}})
	if err := nip09.HandleDeletion(ctx, store, strangerDeletion); err != nil {
		t.Fatalf("HandleDeletion: %v", err)
	}
	if _, err := store.GetByID(ctx, target.ID); err != nil {
		t.Fatalf("expected target to survive stranger's deletion request: %v", err)
	}

	authorDeletion, _ := testutil.NewTestEventWithKey(author, 5, "", [][]string{{"e", target.ID}})
	if err := nip09.HandleDeletion(ctx, store, authorDeletion); err != nil {
		t.Fatalf("HandleDeletion: %v", err)
	}
	if _, err := store.GetByID(ctx, target.ID); err == nil {
		t.Fatalf("expected target to be deleted by its author")
	}
}

// Scenario C from spec §8: gift-wrap deletion is authorized by p-tag
// recipient, not the wrapper's own pubkey.
func TestHandleDeletion_GiftWrapRecipient(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	wrapper := testutil.MustGenerateKeyPair()
	recipient := testutil.MustGenerateKeyPair()
	stranger := testutil.MustGenerateKeyPair()

	giftWrap, _ := testutil.NewTestEventWithKey(wrapper, nip09.KindGiftWrap, "encrypted", [][]string{{"p", recipient.PubKeyHex}})
	if err := store.Persist(ctx, giftWrap); err != nil {
		t.Fatalf("persist: %v", err)
	}

	strangerDeletion, _ := testutil.NewTestEventWithKey(stranger, 5, "", [][]string{{"e", giftWrap.ID}})
	if err := nip09.HandleDeletion(ctx, store, strangerDeletion); err != nil {
		t.Fatalf("HandleDeletion: %v", err)
	}
	if _, err := store.GetByID(ctx, giftWrap.ID); err != nil {
		t.Fatalf("expected gift wrap to survive a non-recipient's deletion request: %v", err)
	}

	recipientDeletion, _ := testutil.NewTestEventWithKey(recipient, 5, "", [][]string{{"e", giftWrap.ID}})
	if err := nip09.HandleDeletion(ctx, store, recipientDeletion); err != nil {
		t.Fatalf("HandleDeletion: %v", err)
	}
	if _, err := store.GetByID(ctx, giftWrap.ID); err == nil {
		t.Fatalf("expected gift wrap to be deleted by its recipient")
	}
}

func TestHandleDeletion_MissingTargetSkipped(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	kp := testutil.MustGenerateKeyPair()
	deletion, _ := testutil.NewTestEventWithKey(kp, 5, "", [][]string{{"e", "0000000000000000000000000000000000000000000000000000000000000000"}})

	if err := nip09.HandleDeletion(ctx, store, deletion); err != nil {
		t.Fatalf("HandleDeletion with missing target should not error: %v", err)
	}
}
