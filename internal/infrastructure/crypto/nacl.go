// Package crypto implements the CryptoBox port with NaCl box
// (X25519 + XSalsa20-Poly1305) for sealing and Ed25519 for envelope
// signatures. All functions are pure; key material is provided by the
// caller on every call.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/box"

	apperrors "whispercall/pkg/errors"
)

const (
	NonceSize = 24
	KeySize   = 32
)

// NaClBox is the production CryptoBox implementation.
type NaClBox struct{}

func NewNaClBox() *NaClBox {
	return &NaClBox{}
}

func (NaClBox) Seal(plaintext, nonce, peerPublicKey, ownPrivateKey []byte) ([]byte, error) {
	n, err := asNonce(nonce)
	if err != nil {
		return nil, err
	}
	pub, priv, err := asKeys(peerPublicKey, ownPrivateKey)
	if err != nil {
		return nil, err
	}
	return box.Seal(nil, plaintext, n, pub, priv), nil
}

func (NaClBox) Open(ciphertext, nonce, peerPublicKey, ownPrivateKey []byte) ([]byte, error) {
	n, err := asNonce(nonce)
	if err != nil {
		return nil, err
	}
	pub, priv, err := asKeys(peerPublicKey, ownPrivateKey)
	if err != nil {
		return nil, err
	}
	plaintext, ok := box.Open(nil, ciphertext, n, pub, priv)
	if !ok {
		return nil, apperrors.NewCryptoError("box open failed")
	}
	return plaintext, nil
}

func (NaClBox) Sign(digest, signingPrivateKey []byte) ([]byte, error) {
	if len(signingPrivateKey) != ed25519.PrivateKeySize {
		return nil, apperrors.NewCryptoError(fmt.Sprintf("signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(signingPrivateKey)))
	}
	return ed25519.Sign(ed25519.PrivateKey(signingPrivateKey), digest), nil
}

func (NaClBox) Verify(digest, signature, signingPublicKey []byte) bool {
	if len(signingPublicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(signingPublicKey), digest, signature)
}

func (NaClBox) GenerateNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCrypto, "nonce generation failed")
	}
	return nonce, nil
}

// GenerateKeyPair creates a fresh box keypair plus an Ed25519 signing
// keypair, for provisioning and tests.
func GenerateKeyPair() (boxPub, boxPriv, signPub, signPriv []byte, err error) {
	bPub, bPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, nil, nil, apperrors.WrapError(err, apperrors.ErrCodeCrypto, "box key generation failed")
	}
	sPub, sPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, nil, nil, apperrors.WrapError(err, apperrors.ErrCodeCrypto, "signing key generation failed")
	}
	return bPub[:], bPriv[:], sPub, sPriv, nil
}

func asNonce(nonce []byte) (*[NonceSize]byte, error) {
	if len(nonce) != NonceSize {
		return nil, apperrors.NewCryptoError(fmt.Sprintf("nonce must be %d bytes, got %d", NonceSize, len(nonce)))
	}
	var n [NonceSize]byte
	copy(n[:], nonce)
	return &n, nil
}

func asKeys(pub, priv []byte) (*[KeySize]byte, *[KeySize]byte, error) {
	if len(pub) != KeySize || len(priv) != KeySize {
		return nil, nil, apperrors.NewCryptoError(fmt.Sprintf("box keys must be %d bytes", KeySize))
	}
	var p, s [KeySize]byte
	copy(p[:], pub)
	copy(s[:], priv)
	return &p, &s, nil
}
