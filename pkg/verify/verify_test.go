package verify_test

import (
	"testing"

	"github.com/paul/glienicke/internal/testutil"
	"github.com/paul/glienicke/pkg/verify"
)

func TestVerify_Valid(t *testing.T) {
	evt, _ := testutil.MustNewTestEvent(1, "hello", nil)
	if !verify.Verify(evt) {
		t.Fatalf("expected valid event to verify")
	}
}

func TestVerify_TamperedContent(t *testing.T) {
	evt, _ := testutil.MustNewTestEvent(1, "hello", nil)
	evt.Content = "tampered"
	if verify.Verify(evt) {
		t.Fatalf("expected tampered content to fail verification")
	}
}

func TestVerify_IDMismatch(t *testing.T) {
	evt, _ := testutil.MustNewTestEvent(1, "hello", nil)
	evt.ID = "0000000000000000000000000000000000000000000000000000000000000000"
	if verify.Verify(evt) {
		t.Fatalf("expected id mismatch to fail verification")
	}
}

func TestVerify_BadSignature(t *testing.T) {
	evt, _ := testutil.MustNewTestEvent(1, "hello", nil)
	evt.Sig = evt.Sig[:len(evt.Sig)-2] + "00"
	if verify.Verify(evt) {
		t.Fatalf("expected corrupted signature to fail verification")
	}
}

func TestVerify_MalformedPubKey(t *testing.T) {
	evt, _ := testutil.MustNewTestEvent(1, "hello", nil)
	evt.PubKey = "not-hex"
	if verify.Verify(evt) {
		t.Fatalf("expected malformed pubkey to fail verification, not panic")
	}
}
