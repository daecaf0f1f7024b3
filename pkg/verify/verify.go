// Package verify implements the cryptographic verifier: recomputing
// an event's identity hash from its canonical serialization and
// checking its BIP-340 Schnorr signature over the secp256k1 curve.
package verify

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/paul/glienicke/pkg/event"
)

// Verify reports whether evt's id matches its canonical serialization
// and its sig is a valid BIP-340 signature of that id under pubkey.
// Any malformed field or internal arithmetic fault yields false; this
// function never returns an error to its caller (spec §4.1).
func Verify(evt *event.Event) bool {
	id, err := ComputeID(evt)
	if err != nil {
		return false
	}
	if id != evt.ID {
		return false
	}
	return verifySignature(evt)
}

// ComputeID computes the event identity hash per the canonical
// serialization rule: SHA256(JSON([0, pubkey, created_at, kind, tags,
// content])) with no insignificant whitespace.
func ComputeID(evt *event.Event) (string, error) {
	serialized, err := canonicalSerialize(evt)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(serialized)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalSerialize(evt *event.Event) ([]byte, error) {
	tags := evt.Tags
	if tags == nil {
		tags = [][]string{}
	}
	data := []interface{}{
		0,
		evt.PubKey,
		evt.CreatedAt,
		evt.Kind,
		tags,
		evt.Content,
	}
	return json.Marshal(data)
}

func verifySignature(evt *event.Event) bool {
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil || len(pubKeyBytes) != 32 {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil || len(sigBytes) != 64 {
		return false
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil || len(idBytes) != 32 {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}
