package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash(t *testing.T) {
	h1 := Hash("secret")
	h2 := Hash("secret")
	h3 := Hash("other")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
	assert.NotContains(t, h1, "secret")
}

func TestKeyring(t *testing.T) {
	k := NewKeyring("alpha", "", "beta")

	assert.Len(t, k.Hashes(), 2)

	key, err := k.Lookup(Hash("alpha"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", key)

	_, err = k.Lookup(Hash("gamma"))
	assert.ErrorIs(t, err, ErrUnknownHash)

	h := k.Add("gamma")
	assert.Equal(t, Hash("gamma"), h)
	key, err = k.Lookup(h)
	require.NoError(t, err)
	assert.Equal(t, "gamma", key)

	assert.Empty(t, k.Add(""))
}
