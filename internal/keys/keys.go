// Package keys implements the Key Store (C2) and the public-key material
// behind the Public Key Publisher (C7). It owns RSA keypair generation,
// persistence of the private key material, and JWKS marshalling of the
// public half, generalizing the teacher's NewJWTProvider (which hardcoded a
// single "sig-1" key) to a store of N concurrently-active keys so old
// tokens keep validating across a rotation.
package keys

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// ErrKeyNotFound is returned when a kid is not present in the store.
var ErrKeyNotFound = errors.New("keys: key not found")

// ErrNoActiveKey is returned when a caller asks for a signing key and the
// store has none that are currently usable for signing.
var ErrNoActiveKey = errors.New("keys: no active signing key")

const keyBits = 2048

// Key is one RSA signing keypair, identified by Kid. Only the Key Store
// ever touches the private half; everything else in the system only ever
// sees the public key or a signature produced against it.
type Key struct {
	Kid          string
	PublicKeyPEM string
	CreatedAt    time.Time
	// ExpiresAt is when this key stops being active: from then on it is
	// neither used for signing nor returned by ActiveKeysAt, so it no longer
	// appears in the published key set.
	ExpiresAt time.Time
	// RetiredAt is set once the key is no longer used for signing but is
	// still kept around to validate not-yet-expired tokens it minted.
	RetiredAt *time.Time

	private *rsa.PrivateKey
}

// PrivateKey exposes the signing key to the Token Minter (C3) only; nothing
// else in the system should import crypto/rsa on a Key.
func (k Key) PrivateKey() *rsa.PrivateKey { return k.private }

// PublicKey parses PublicKeyPEM back into an *rsa.PublicKey for verification.
func (k Key) PublicKey() (*rsa.PublicKey, error) {
	return parsePublicPEM(k.PublicKeyPEM)
}

// Store is the Key Store (C2) contract: generate, persist, rotate and
// enumerate signing keys.
type Store interface {
	// ActiveKeysAt returns every key whose ExpiresAt is in the future,
	// newest first, for JWKS publication and verification.
	ActiveKeysAt(ctx context.Context, at time.Time) ([]Key, error)
	// PrimarySigningKeyAt returns the single key new tokens should be signed
	// with — the most recently created, non-retired key.
	PrimarySigningKeyAt(ctx context.Context, at time.Time) (Key, error)
	// Get returns the key with the given kid, including retired keys, so a
	// token signed moments before a rotation can still be verified.
	Get(ctx context.Context, kid string) (Key, error)
	// EnsureBootstrap generates a signing key if the store holds no key
	// whose ExpiresAt is still in the future.
	EnsureBootstrap(ctx context.Context, expiry time.Duration) error
	// Rotate generates a new primary signing key and retires the previous
	// one (it keeps validating until its own ExpiresAt).
	Rotate(ctx context.Context, expiry time.Duration) (Key, error)
}

// generateKey creates a new RSA-2048 keypair with a random kid.
func generateKey(now time.Time, expiry time.Duration) (Key, error) {
	priv, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return Key{}, fmt.Errorf("keys: generate rsa key: %w", err)
	}
	pubPEM, err := encodePublicPEM(&priv.PublicKey)
	if err != nil {
		return Key{}, err
	}
	return Key{
		Kid:          uuid.NewString(),
		PublicKeyPEM: pubPEM,
		CreatedAt:    now,
		ExpiresAt:    now.Add(expiry),
		private:      priv,
	}, nil
}

func encodePublicPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("keys: marshal public key: %w", err)
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

func encodePrivatePEM(priv *rsa.PrivateKey) string {
	der := x509.MarshalPKCS1PrivateKey(priv)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

// parsePrivatePEM parses a PEM-encoded RSA private key, trying PKCS1 first
// and falling back to PKCS8, the same fallback order as the teacher's
// NewJWTProvider, since keys generated by cmd/keygen use PKCS1 but an
// operator-supplied key might be PKCS8.
func parsePrivatePEM(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("keys: invalid PEM block for private key")
	}
	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return priv, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse private key (pkcs1 and pkcs8 both failed): %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("keys: private key is not RSA")
	}
	return priv, nil
}

func parsePublicPEM(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemStr))
	if block == nil {
		return nil, errors.New("keys: invalid PEM block for public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keys: parse public key: %w", err)
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("keys: public key is not RSA")
	}
	return pub, nil
}

// base64URLUint mirrors the encoding JWKS needs for "n" and "e": unsigned
// big-endian, base64url, no padding.
func base64URLUint(n *big.Int) string {
	return base64RawURLEncode(n.Bytes())
}
