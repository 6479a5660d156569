package tuf

import (
	cjson "github.com/docker/go/canonical/json"
)

// marshaller is implemented by every Signed* payload type; it is the hook
// verification and persistence use to get the exact bytes a signature was
// computed over (§4.1: "the on-wire representation is not re-used even if
// it happens to be canonical").
type marshaller interface {
	canonicalJSON() ([]byte, error)
}

// marshalCanonical is the single call site for the canonical JSON codec,
// kept out-of-scope per spec.md §1: the encoder itself is assumed correct
// and byte-exact, this package only ever calls it.
func marshalCanonical(v interface{}) ([]byte, error) {
	return cjson.MarshalCanonical(v)
}
