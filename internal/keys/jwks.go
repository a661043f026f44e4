package keys

import (
	"context"
	"encoding/base64"
	"time"
)

// JWK is a single public key entry in a JWKS document, RFC 7517 shaped the
// same way as the teacher's internal/auth/token.go JWK struct.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS is the published key set, generalized from the teacher's
// single-key GetJWKS to however many keys ActiveKeysAt returns.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

func base64RawURLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// toJWK converts a Key's public half into its JWK representation.
func toJWK(k Key) (JWK, error) {
	pub, err := k.PublicKey()
	if err != nil {
		return JWK{}, err
	}
	eBytes := bigIntToBytes(pub.E)
	return JWK{
		Kty: "RSA",
		Use: "sig",
		Kid: k.Kid,
		Alg: "RS256",
		N:   base64URLUint(pub.N),
		E:   base64RawURLEncode(eBytes),
	}, nil
}

func bigIntToBytes(e int) []byte {
	// e is virtually always 65537 (0x010001); encode the minimal big-endian
	// representation the same way math/big.Int.Bytes() would.
	if e == 0 {
		return []byte{0}
	}
	var b []byte
	for e > 0 {
		b = append([]byte{byte(e & 0xff)}, b...)
		e >>= 8
	}
	return b
}

// PublishJWKS builds the JWKS document from every key active at `at`,
// skipping any key whose PEM fails to parse rather than failing the whole
// publication (defensive against a corrupted row blocking every client).
func PublishJWKS(ctx context.Context, store Store, at time.Time) (JWKS, error) {
	active, err := store.ActiveKeysAt(ctx, at)
	if err != nil {
		return JWKS{}, err
	}
	out := JWKS{Keys: make([]JWK, 0, len(active))}
	for _, k := range active {
		jwk, err := toJWK(k)
		if err != nil {
			continue
		}
		out.Keys = append(out.Keys, jwk)
	}
	return out, nil
}
