package tuf

import (
	"crypto/ed25519"

	"github.com/pkg/errors"
)

// verifySignature checks a single ed25519 signature over signed (already
// the canonical-JSON bytes of the document's "signed" field) using key.
func verifySignature(signed []byte, key Key, sig Signature) error {
	if key.KeyType != keyTypeED25519 {
		return errors.Errorf("unsupported key type %q", key.KeyType)
	}
	if sig.Method != methodED25519 {
		return errors.Errorf("unsupported signing method %q", sig.Method)
	}
	pub, err := key.publicKey()
	if err != nil {
		return err
	}
	sigBytes, err := sig.decode()
	if err != nil {
		return errors.Wrap(err, "decoding signature")
	}
	if !ed25519.Verify(pub, signed, sigBytes) {
		return &ErrInvalidSignature{KeyID: sig.KeyID}
	}
	return nil
}

// verifyOutcome carries verification bookkeeping useful to callers that
// want to log non-fatal findings (e.g. scenario 1 of §8: an unknown key
// id should be logged even though the threshold may still be met by
// other signatures).
type verifyOutcome struct {
	validKeyIDs  []KeyID
	unknownKeys  []KeyID
	invalidSigs  []KeyID
}

// verifyEnvelope implements §4.1's verify_envelope: it returns success
// iff at least role.Threshold signatures are valid ed25519 signatures of
// canonical(signed) under distinct KeyIDs drawn from keyEnv, restricted
// to role.KeyIDs, with duplicate KeyIDs in the signature list not
// double-counting.
func verifyEnvelope(roleName RoleName, role Role, keyEnv KeyEnv, signed []byte, sigs []Signature) (*verifyOutcome, error) {
	authorized := role.keySet()
	seen := make(map[KeyID]struct{})
	outcome := &verifyOutcome{}

	for _, sig := range sigs {
		if _, ok := authorized[sig.KeyID]; !ok {
			// Not an authorized signer for this role; doesn't even
			// merit a key lookup.
			continue
		}
		if _, dup := seen[sig.KeyID]; dup {
			continue
		}
		key, ok := keyEnv.lookup(sig.KeyID)
		if !ok {
			outcome.unknownKeys = append(outcome.unknownKeys, sig.KeyID)
			continue
		}
		if err := verifySignature(signed, key, sig); err != nil {
			outcome.invalidSigs = append(outcome.invalidSigs, sig.KeyID)
			continue
		}
		seen[sig.KeyID] = struct{}{}
		outcome.validKeyIDs = append(outcome.validKeyIDs, sig.KeyID)
	}

	if len(outcome.validKeyIDs) < role.Threshold {
		return outcome, &ErrSignatureThresholdNotMet{
			Role: roleName,
			Need: role.Threshold,
			Got:  len(outcome.validKeyIDs),
		}
	}
	return outcome, nil
}
