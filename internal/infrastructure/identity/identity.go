// Package identity provides the account context the signaling core
// depends on: the local keypair, the session token and the contact key
// registry. Key material is kept in a local JSON file and generated on
// first use.
package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"sync"

	"whispercall/internal/core/domain"
	"whispercall/internal/core/ports"
	"whispercall/internal/infrastructure/crypto"
	apperrors "whispercall/pkg/errors"
)

type keyFile struct {
	BoxPublic   string `json:"box_public"`
	BoxPrivate  string `json:"box_private"`
	SignPublic  string `json:"sign_public"`
	SignPrivate string `json:"sign_private"`
}

// FileIdentity implements the Identity port. Contacts are registered at
// runtime; a full client would hydrate them from its contact directory.
type FileIdentity struct {
	userID domain.PeerID
	keys   *ports.KeyPair

	mu       sync.RWMutex
	token    string
	contacts map[domain.PeerID]*ports.ContactKeys
}

// Load reads the keypair from path, generating and persisting a fresh
// one when the file does not exist yet.
func Load(path string, userID domain.PeerID, sessionToken string) (*FileIdentity, error) {
	keys, err := loadOrCreateKeys(path)
	if err != nil {
		return nil, err
	}
	return &FileIdentity{
		userID:   userID,
		keys:     keys,
		token:    sessionToken,
		contacts: make(map[domain.PeerID]*ports.ContactKeys),
	}, nil
}

func (i *FileIdentity) UserID() domain.PeerID { return i.userID }

func (i *FileIdentity) SessionToken() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.token
}

// SetSessionToken installs a new token after re-authentication.
func (i *FileIdentity) SetSessionToken(token string) {
	i.mu.Lock()
	i.token = token
	i.mu.Unlock()
}

func (i *FileIdentity) Keys() (*ports.KeyPair, error) {
	if i.keys == nil {
		return nil, domain.ErrMissingKeys
	}
	return i.keys, nil
}

func (i *FileIdentity) ContactKeys(_ context.Context, peer domain.PeerID) (*ports.ContactKeys, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if ck, ok := i.contacts[peer]; ok {
		return ck, nil
	}
	return nil, domain.ErrContactKeyUnknown
}

// AddContact registers a counterparty's published keys.
func (i *FileIdentity) AddContact(peer domain.PeerID, boxPublic, signPublic []byte) {
	i.mu.Lock()
	i.contacts[peer] = &ports.ContactKeys{BoxPublic: boxPublic, SignPublic: signPublic}
	i.mu.Unlock()
}

func loadOrCreateKeys(path string) (*ports.KeyPair, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return generateKeys(path)
	}
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to read key file")
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "key file is not valid json")
	}
	return decodeKeys(&kf)
}

func generateKeys(path string) (*ports.KeyPair, error) {
	boxPub, boxPriv, signPub, signPriv, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	kf := keyFile{
		BoxPublic:   base64.StdEncoding.EncodeToString(boxPub),
		BoxPrivate:  base64.StdEncoding.EncodeToString(boxPriv),
		SignPublic:  base64.StdEncoding.EncodeToString(signPub),
		SignPrivate: base64.StdEncoding.EncodeToString(signPriv),
	}
	data, err := json.MarshalIndent(&kf, "", "  ")
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to encode key file")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "failed to write key file")
	}

	return &ports.KeyPair{
		BoxPublic:   boxPub,
		BoxPrivate:  boxPriv,
		SignPublic:  signPub,
		SignPrivate: signPriv,
	}, nil
}

func decodeKeys(kf *keyFile) (*ports.KeyPair, error) {
	fields := []string{kf.BoxPublic, kf.BoxPrivate, kf.SignPublic, kf.SignPrivate}
	decoded := make([][]byte, len(fields))
	for i, f := range fields {
		b, err := base64.StdEncoding.DecodeString(f)
		if err != nil {
			return nil, apperrors.WrapError(err, apperrors.ErrCodeInternal, "key file contains invalid base64")
		}
		decoded[i] = b
	}
	return &ports.KeyPair{
		BoxPublic:   decoded[0],
		BoxPrivate:  decoded[1],
		SignPublic:  decoded[2],
		SignPrivate: decoded[3],
	}, nil
}
