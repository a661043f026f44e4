// Package password implements the Password Hasher (C1): memory-hard,
// salted, peppered password hashing plus a deterministic token-hash helper
// used to look refresh tokens up by hash. It supersedes the teacher's
// bcrypt hasher with argon2id from the same golang.org/x/crypto module,
// because spec.md requires independently configurable memory cost,
// iteration count and parallelism, which bcrypt's single cost factor
// cannot express.
package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrInvalidInput is returned by Hash when password or salt is empty, or by
// New when pepper is empty or parameters are out of bounds.
var ErrInvalidInput = errors.New("password: invalid input")

const (
	minSaltLength = 8
	maxSaltLength = 64
	minHashLength = 16
	maxHashLength = 64
)

// Params configures the argon2id KDF. Changing any field is a breaking
// change for already-stored hashes (see spec.md §4.1's note on legacy
// hashes); callers rotating parameters must tolerate both the old and new
// encoded forms during the transition, which is why Verify parses cost
// parameters out of the stored string rather than assuming the current
// Params.
type Params struct {
	Iterations  uint32
	MemoryKiB   uint32
	Parallelism uint8
	SaltLength  int
	HashLength  uint32
}

// DefaultParams mirrors the defaults named in spec.md §6.
func DefaultParams() Params {
	return Params{
		Iterations:  3,
		MemoryKiB:   64 * 1024,
		Parallelism: 2,
		SaltLength:  32,
		HashLength:  32,
	}
}

// Hasher is the C1 contract.
type Hasher interface {
	GenerateSalt() ([]byte, error)
	Hash(password string, salt []byte) (string, error)
	Verify(password, storedHash string, salt []byte) bool
	HashTokenDeterministic(token string) string
}

// Argon2Hasher implements Hasher. pepper is a process-wide secret loaded
// from configuration and never persisted.
type Argon2Hasher struct {
	pepper []byte
	params Params
}

// New constructs an Argon2Hasher. pepper must be non-empty; params outside
// the bounds of spec.md §4.1 (salt in [8,64], hash in [16,64]) or with a
// zero cost parameter are rejected with ErrInvalidInput.
func New(pepper string, params Params) (*Argon2Hasher, error) {
	if pepper == "" {
		return nil, fmt.Errorf("%w: pepper must not be empty", ErrInvalidInput)
	}
	if params.SaltLength < minSaltLength || params.SaltLength > maxSaltLength {
		return nil, fmt.Errorf("%w: salt length %d out of range [%d,%d]", ErrInvalidInput, params.SaltLength, minSaltLength, maxSaltLength)
	}
	if params.HashLength < minHashLength || params.HashLength > maxHashLength {
		return nil, fmt.Errorf("%w: hash length %d out of range [%d,%d]", ErrInvalidInput, params.HashLength, minHashLength, maxHashLength)
	}
	if params.Iterations == 0 || params.MemoryKiB == 0 || params.Parallelism == 0 {
		return nil, fmt.Errorf("%w: kdf cost parameters must be positive", ErrInvalidInput)
	}
	return &Argon2Hasher{pepper: []byte(pepper), params: params}, nil
}

// GenerateSalt returns a cryptographically random salt of the configured
// length.
func (h *Argon2Hasher) GenerateSalt() ([]byte, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("password: generate salt: %w", err)
	}
	return salt, nil
}

// encodedPrefix identifies the KDF and its cost parameters, PHC-string
// flavored so a future parameter change can be detected and tolerated.
const encodedPrefix = "argon2id"

// Hash derives a password hash from password || pepper || salt_b64, per
// spec.md §4.1's rationale: the salt defeats rainbow tables, the pepper
// defeats offline attacks even if the store is exfiltrated.
func (h *Argon2Hasher) Hash(password string, salt []byte) (string, error) {
	if password == "" || len(salt) == 0 {
		return "", ErrInvalidInput
	}
	sum := h.derive(password, salt, h.params)
	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	sumB64 := base64.RawStdEncoding.EncodeToString(sum)
	return fmt.Sprintf("$%s$v=19$m=%d,t=%d,p=%d$%s$%s",
		encodedPrefix, h.params.MemoryKiB, h.params.Iterations, h.params.Parallelism, saltB64, sumB64), nil
}

// Verify recomputes the hash with the cost parameters embedded in
// storedHash (not the hasher's current Params, to tolerate parameter
// rotation) and compares in constant time. Any decoding or parameter
// mismatch returns false rather than an error.
func (h *Argon2Hasher) Verify(password, storedHash string, salt []byte) bool {
	if password == "" || storedHash == "" || len(salt) == 0 {
		return false
	}
	params, saltFromHash, sum, ok := decode(storedHash)
	if !ok {
		return false
	}
	// The caller-supplied salt must match the salt embedded in the stored
	// hash; a mismatch here means the wrong salt column was passed in.
	if subtle.ConstantTimeCompare(salt, saltFromHash) != 1 {
		return false
	}
	candidate := h.derive(password, salt, params)
	return subtle.ConstantTimeCompare(candidate, sum) == 1
}

func (h *Argon2Hasher) derive(password string, salt []byte, params Params) []byte {
	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	input := password + string(h.pepper) + saltB64
	return argon2.IDKey([]byte(input), salt, params.Iterations, params.MemoryKiB, params.Parallelism, params.HashLength)
}

// decode parses the "$argon2id$v=19$m=..,t=..,p=..$salt$hash" form back
// into its cost parameters, salt and hash bytes.
func decode(encoded string) (Params, []byte, []byte, bool) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != encodedPrefix {
		return Params{}, nil, nil, false
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != 19 {
		return Params{}, nil, nil, false
	}
	var memory, iterations int
	var parallelism int
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil || n != 3 {
		return Params{}, nil, nil, false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, false
	}
	sum, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return Params{}, nil, nil, false
	}
	params := Params{
		Iterations:  uint32(iterations),
		MemoryKiB:   uint32(memory),
		Parallelism: uint8(parallelism),
		SaltLength:  len(salt),
		HashLength:  uint32(len(sum)),
	}
	return params, salt, sum, true
}

// HashTokenDeterministic derives a stable lookup key for an opaque
// refresh-token string: SHA-256(token || pepper), hex-encoded. Determinism
// lets the refresh token be looked up by hash in O(1) without storing the
// plaintext; it must be stable across processes given the same pepper.
func (h *Argon2Hasher) HashTokenDeterministic(token string) string {
	sum := sha256.Sum256(append([]byte(token), h.pepper...))
	return hex.EncodeToString(sum[:])
}

// ParamsString renders p for logging without leaking secret material.
func ParamsString(p Params) string {
	return "m=" + strconv.Itoa(int(p.MemoryKiB)) + ",t=" + strconv.Itoa(int(p.Iterations)) + ",p=" + strconv.Itoa(int(p.Parallelism))
}
