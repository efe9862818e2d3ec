package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundtrip(t *testing.T) {
	alicePub, alicePriv, _, _, err := GenerateKeyPair()
	require.NoError(t, err)
	bobPub, bobPriv, _, _, err := GenerateKeyPair()
	require.NoError(t, err)

	b := NewNaClBox()
	nonce, err := b.GenerateNonce()
	require.NoError(t, err)

	sealed, err := b.Seal([]byte("v=0 offer"), nonce, bobPub, alicePriv)
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "offer")

	opened, err := b.Open(sealed, nonce, alicePub, bobPriv)
	require.NoError(t, err)
	assert.Equal(t, "v=0 offer", string(opened))
}

func TestOpenFailsWithWrongKey(t *testing.T) {
	alicePub, alicePriv, _, _, err := GenerateKeyPair()
	require.NoError(t, err)
	bobPub, _, _, _, err := GenerateKeyPair()
	require.NoError(t, err)
	_, malloryPriv, _, _, err := GenerateKeyPair()
	require.NoError(t, err)

	b := NewNaClBox()
	nonce, err := b.GenerateNonce()
	require.NoError(t, err)

	sealed, err := b.Seal([]byte("secret"), nonce, bobPub, alicePriv)
	require.NoError(t, err)

	_, err = b.Open(sealed, nonce, alicePub, malloryPriv)
	assert.Error(t, err)
}

func TestOpenFailsOnTamperedCiphertext(t *testing.T) {
	alicePub, alicePriv, _, _, err := GenerateKeyPair()
	require.NoError(t, err)
	bobPub, bobPriv, _, _, err := GenerateKeyPair()
	require.NoError(t, err)

	b := NewNaClBox()
	nonce, err := b.GenerateNonce()
	require.NoError(t, err)

	sealed, err := b.Seal([]byte("secret"), nonce, bobPub, alicePriv)
	require.NoError(t, err)
	sealed[0] ^= 0xff

	_, err = b.Open(sealed, nonce, alicePub, bobPriv)
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	_, _, signPub, signPriv, err := GenerateKeyPair()
	require.NoError(t, err)

	b := NewNaClBox()
	digest := []byte("0123456789abcdef0123456789abcdef")

	sig, err := b.Sign(digest, signPriv)
	require.NoError(t, err)
	assert.True(t, b.Verify(digest, sig, signPub))

	// A different digest or key must not verify.
	assert.False(t, b.Verify([]byte("other digest"), sig, signPub))
	_, _, otherPub, _, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.False(t, b.Verify(digest, sig, otherPub))
}

func TestNonceSizeEnforced(t *testing.T) {
	b := NewNaClBox()

	nonce, err := b.GenerateNonce()
	require.NoError(t, err)
	assert.Len(t, nonce, NonceSize)

	pub, priv, _, _, err := GenerateKeyPair()
	require.NoError(t, err)
	_, err = b.Seal([]byte("x"), []byte("short"), pub, priv)
	assert.Error(t, err)
}

func TestFreshNoncesDiffer(t *testing.T) {
	b := NewNaClBox()
	a, err := b.GenerateNonce()
	require.NoError(t, err)
	c, err := b.GenerateNonce()
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
