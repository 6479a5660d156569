package tuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyIDIsDeterministic(t *testing.T) {
	k := mustGenerateKey()
	id1, err := k.key.ID()
	require.NoError(t, err)
	id2, err := k.key.ID()
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, string(id1), 64) // hex sha256
}

func TestKeyEnvAddConflict(t *testing.T) {
	k := mustGenerateKey()
	ke := newKeyEnv()
	require.NoError(t, ke.add(map[KeyID]Key{k.id: k.key}))

	other := mustGenerateKey()
	tampered := k.key
	tampered.KeyVal.Public = other.key.KeyVal.Public

	err := ke.add(map[KeyID]Key{k.id: tampered})
	assert.Error(t, err)
}

func TestKeyEnvAddIdempotent(t *testing.T) {
	k := mustGenerateKey()
	ke := newKeyEnv()
	require.NoError(t, ke.add(map[KeyID]Key{k.id: k.key}))
	require.NoError(t, ke.add(map[KeyID]Key{k.id: k.key}))
	got, ok := ke.lookup(k.id)
	assert.True(t, ok)
	assert.Equal(t, k.key, got)
}

func TestKeyEnvLookupMiss(t *testing.T) {
	ke := newKeyEnv()
	_, ok := ke.lookup(KeyID("deadbeef"))
	assert.False(t, ok)
}

func TestKeyEnvClone(t *testing.T) {
	k := mustGenerateKey()
	ke := newKeyEnv()
	require.NoError(t, ke.add(map[KeyID]Key{k.id: k.key}))
	clone := ke.clone()
	clone[KeyID("extra")] = k.key
	_, ok := ke.lookup(KeyID("extra"))
	assert.False(t, ok, "mutating the clone must not affect the original")
}
