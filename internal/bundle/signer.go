package bundle

import (
	"crypto"
	"io"

	"github.com/sigstore/sigstore/pkg/cryptoutils"
	"github.com/sigstore/sigstore/pkg/signature"
)

// KeySigner adapts a signature.Signer loaded from the hub's PEM-encoded
// signing key into this package's Signer interface, attaching the
// configured key identifier (spec.md §4.6 "signedBy carries the key
// identifier").
type KeySigner struct {
	inner signature.Signer
	keyID string
}

// LoadKeySigner parses a PEM private key and builds a KeySigner bound to
// keyID (spec.md §6 BUNDLE_SIGNING_KEY_ID).
func LoadKeySigner(pemBytes []byte, keyID string) (*KeySigner, error) {
	key, err := cryptoutils.UnmarshalPEMToPrivateKey(pemBytes, cryptoutils.SkipPassword)
	if err != nil {
		return nil, err
	}
	signer, err := signature.LoadSignerVerifier(key, crypto.SHA256)
	if err != nil {
		return nil, err
	}
	return &KeySigner{inner: signer, keyID: keyID}, nil
}

// SignMessage signs message with the configured key.
func (k *KeySigner) SignMessage(message io.Reader, opts ...signature.SignOption) ([]byte, error) {
	return k.inner.SignMessage(message, opts...)
}

// KeyID returns the configured signing key identifier.
func (k *KeySigner) KeyID() string { return k.keyID }
