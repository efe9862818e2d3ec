package services

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"whispercall/internal/core/domain"
	"whispercall/internal/core/ports"
	apperrors "whispercall/pkg/errors"
)

// canonicalVersion prefixes every signed preimage; a format change bumps
// it and invalidates old signatures.
const canonicalVersion = "v1"

// envelopeCodec builds and parses the sealed control-message payloads.
// Plaintexts are sealed with the counterparty's box key and signed over
// the canonical concatenation of the envelope's identifying fields, so a
// relaying server can route envelopes but neither read nor alter them.
type envelopeCodec struct {
	crypto   ports.CryptoBox
	identity ports.Identity
	clock    ports.Clock
}

// NewEnvelopeCodec returns the production codec.
func NewEnvelopeCodec(crypto ports.CryptoBox, identity ports.Identity, clock ports.Clock) ports.EnvelopeCodec {
	return &envelopeCodec{crypto: crypto, identity: identity, clock: clock}
}

func (c *envelopeCodec) Encode(ctx context.Context, msgType domain.MessageType, callID domain.CallID, to domain.PeerID, plaintext []byte) (*domain.SignalingEnvelope, error) {
	keys, err := c.identity.Keys()
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodePrecondition, "identity keys unavailable")
	}
	token := c.identity.SessionToken()
	if token == "" {
		return nil, apperrors.WrapError(domain.ErrMissingSession, apperrors.ErrCodePrecondition, "no session token")
	}

	// Server-addressed envelopes (credential requests) seal to our own
	// box key; peer-addressed ones to the contact's published key.
	recipientBoxPub := keys.BoxPublic
	if to != c.identity.UserID() {
		contact, err := c.identity.ContactKeys(ctx, to)
		if err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodePrecondition, "contact public key unavailable")
		}
		recipientBoxPub = contact.BoxPublic
	}

	nonce, err := c.crypto.GenerateNonce()
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCrypto, "nonce generation failed")
	}

	ciphertext, err := c.crypto.Seal(plaintext, nonce, recipientBoxPub, keys.BoxPrivate)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCrypto, "seal failed")
	}

	env := &domain.SignalingEnvelope{
		Type:         msgType,
		SessionToken: token,
		CallID:       callID,
		From:         c.identity.UserID(),
		To:           to,
		Timestamp:    c.clock.Now().UnixMilli(),
		Nonce:        base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:   base64.StdEncoding.EncodeToString(ciphertext),
	}

	sig, err := c.crypto.Sign(canonicalDigest(env), keys.SignPrivate)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeCrypto, "sign failed")
	}
	env.Signature = base64.StdEncoding.EncodeToString(sig)

	return env, nil
}

func (c *envelopeCodec) Decode(ctx context.Context, env *domain.SignalingEnvelope) ([]byte, error) {
	if err := validateStructure(env); err != nil {
		return nil, err
	}

	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return nil, malformed("nonce is not valid base64")
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, malformed("ciphertext is not valid base64")
	}
	sig, err := base64.StdEncoding.DecodeString(env.Signature)
	if err != nil {
		return nil, malformed("signature is not valid base64")
	}

	keys, err := c.identity.Keys()
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodePrecondition, "identity keys unavailable")
	}
	sender, err := c.identity.ContactKeys(ctx, env.From)
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodePrecondition, "sender public key unavailable")
	}

	if !c.crypto.Verify(canonicalDigest(env), sig, sender.SignPublic) {
		return nil, apperrors.WrapError(domain.ErrEnvelopeCrypto, apperrors.ErrCodeCrypto, "signature verification failed")
	}

	plaintext, err := c.crypto.Open(ciphertext, nonce, sender.BoxPublic, keys.BoxPrivate)
	if err != nil {
		return nil, apperrors.WrapError(domain.ErrEnvelopeCrypto, apperrors.ErrCodeCrypto, "decryption failed")
	}
	return plaintext, nil
}

// canonicalDigest hashes the canonical line format covering everything a
// tampering relay could try to rewrite.
func canonicalDigest(env *domain.SignalingEnvelope) []byte {
	canonical := fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n%d\n%s\n%s\n",
		canonicalVersion,
		env.Type,
		env.CallID,
		env.From,
		env.To,
		env.Timestamp,
		env.Nonce,
		env.Ciphertext,
	)
	digest := sha256.Sum256([]byte(canonical))
	return digest[:]
}

// validateStructure distinguishes parse problems from crypto ones:
// missing fields are protocol errors, never decryption failures.
func validateStructure(env *domain.SignalingEnvelope) error {
	switch {
	case env == nil:
		return malformed("nil envelope")
	case env.Type == "":
		return malformed("missing type")
	case env.From == "":
		return malformed("missing from")
	case env.To == "":
		return malformed("missing to")
	case env.Nonce == "":
		return malformed("missing nonce")
	case env.Ciphertext == "":
		return malformed("missing ciphertext")
	case env.Signature == "":
		return malformed("missing signature")
	case env.Timestamp <= 0:
		return malformed("missing timestamp")
	}
	return nil
}

func malformed(why string) error {
	return apperrors.WrapError(domain.ErrEnvelopeMalformed, apperrors.ErrCodeProtocol, why)
}
