package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personalizedrefrigerator/notesync/internal/common"
)

func TestRSAVariants_WrapUnwrapRoundTrip(t *testing.T) {
	priv, err := GenerateDeviceKeyPair()
	require.NoError(t, err)

	material := common.GenerateRandByteArray(32)

	variants := []PublicKeyCipher{RSAV1{}, RSAV2{}, RSAV3{}}
	for _, v := range variants {
		t.Run(v.ID().String(), func(t *testing.T) {
			wrapped, err := v.WrapKey(&priv.PublicKey, material)
			require.NoError(t, err)
			assert.NotEqual(t, material, wrapped)

			back, err := v.UnwrapKey(priv, wrapped)
			require.NoError(t, err)
			assert.Equal(t, material, back)
		})
	}
}

func TestRSAV1_IsDecryptOnly(t *testing.T) {
	assert.False(t, RSAV1{}.WrapAllowed())
	assert.True(t, RSAV2{}.WrapAllowed())
	assert.True(t, RSAV3{}.WrapAllowed())
}

func TestKeyPairPEM_RoundTrip(t *testing.T) {
	priv, err := GenerateDeviceKeyPair()
	require.NoError(t, err)

	privPEM, err := MarshalPrivateKeyPEM(priv)
	require.NoError(t, err)
	pubPEM, err := MarshalPublicKeyPEM(&priv.PublicKey)
	require.NoError(t, err)

	privBack, err := ParsePrivateKeyPEM(privPEM)
	require.NoError(t, err)
	pubBack, err := ParsePublicKeyPEM(pubPEM)
	require.NoError(t, err)

	assert.True(t, priv.Equal(privBack))
	assert.True(t, priv.PublicKey.Equal(pubBack))
}

func TestRegistry_UnknownAndUnavailable(t *testing.T) {
	r := NewRegistry()

	_, err := r.Symmetric(AlgorithmAES256GCM)
	assert.ErrorIs(t, err, common.ErrUnknownAlgorithm)
	assert.False(t, r.HasSymmetric())

	// a registered-nil slot means "known but unsupported on this platform"
	r.RegisterPublicKey(AlgorithmRSAV2, nil)
	_, err = r.PublicKey(AlgorithmRSAV2)
	assert.ErrorIs(t, err, common.ErrAlgorithmUnavailable)

	_, err = r.PublicKey(AlgorithmRSAV3)
	assert.ErrorIs(t, err, common.ErrUnknownAlgorithm)
}

func TestDefaultRegistry_HasEverything(t *testing.T) {
	r := DefaultRegistry()

	assert.True(t, r.HasSymmetric())

	c, err := r.Symmetric(AlgorithmAES256GCM)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmAES256GCM, c.ID())

	for _, id := range []AlgorithmID{AlgorithmRSAV1, AlgorithmRSAV2, AlgorithmRSAV3} {
		p, err := r.PublicKey(id)
		require.NoError(t, err)
		assert.Equal(t, id, p.ID())
	}
}
