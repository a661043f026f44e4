// Package edge implements the Edge Validator (C9): the Extract →
// VerifySig → CheckRevocation → Decorate → Forward state machine the
// gateway runs on every inbound request, built on gofiber/fiber since
// spec.md §5 asks for an asynchronous single-event-loop-per-core reactive
// server, which fiber's fasthttp engine is the idiomatic Go vehicle for
// (see Abraxas-365-manifesto's pkg/iam/auth/middleware.go for the fiber
// auth-middleware shape this borrows).
package edge

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// ErrUnknownKid is returned by Lookup when kid is not (yet) in the cache.
var ErrUnknownKid = errors.New("edge: unknown kid")

type jwkWire struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksWire struct {
	Keys []jwkWire `json:"keys"`
}

// JWKSCache fetches and caches the Authority's published key set. A
// verification failure due to an unknown kid triggers an immediate
// out-of-band refresh before the request is failed (spec.md §5); if the
// Authority is unreachable, the previous snapshot keeps serving until
// MaxStale elapses.
type JWKSCache struct {
	jwksURL         string
	httpClient      *http.Client
	refreshInterval time.Duration
	maxStale        time.Duration

	mu          sync.RWMutex
	keys        map[string]*rsa.PublicKey
	lastFetched time.Time
}

// NewJWKSCache constructs a cache pointed at jwksURL (the Authority's
// /.well-known/jwks.json endpoint).
func NewJWKSCache(jwksURL string, refreshInterval, maxStale time.Duration) *JWKSCache {
	return &JWKSCache{
		jwksURL:         jwksURL,
		httpClient:      &http.Client{Timeout: 5 * time.Second},
		refreshInterval: refreshInterval,
		maxStale:        maxStale,
		keys:            make(map[string]*rsa.PublicKey),
	}
}

// Start populates the cache once synchronously, then launches the periodic
// background refresh loop in its own goroutine and returns. Cancelling ctx
// stops the loop.
func (c *JWKSCache) Start(ctx context.Context) {
	// Populate the cache once synchronously so the gateway doesn't start
	// cold with zero keys.
	if err := c.refresh(ctx); err != nil {
		// Logged by the caller via the returned error on first Lookup miss;
		// a cold start with an unreachable Authority is a startup failure
		// the caller should already be handling.
		_ = err
	}
	ticker := time.NewTicker(c.refreshInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = c.refresh(ctx)
			}
		}
	}()
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.jwksURL, nil)
	if err != nil {
		return fmt.Errorf("edge: build jwks request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.checkStaleness(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.checkStaleness(fmt.Errorf("edge: jwks endpoint returned %d", resp.StatusCode))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return c.checkStaleness(err)
	}

	var wire jwksWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return c.checkStaleness(fmt.Errorf("edge: decode jwks: %w", err))
	}

	parsed := make(map[string]*rsa.PublicKey, len(wire.Keys))
	for _, k := range wire.Keys {
		pub, err := keyFromWire(k)
		if err != nil {
			continue
		}
		parsed[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = parsed
	c.lastFetched = time.Now()
	c.mu.Unlock()
	return nil
}

// checkStaleness decides whether cause should propagate: if the cache was
// last refreshed within MaxStale, the previous snapshot remains authoritative
// and the error is swallowed; otherwise it is returned so callers can fail
// closed.
func (c *JWKSCache) checkStaleness(cause error) error {
	c.mu.RLock()
	last := c.lastFetched
	c.mu.RUnlock()
	if !last.IsZero() && time.Since(last) <= c.maxStale {
		return nil
	}
	return cause
}

// Lookup returns the public key for kid, triggering an immediate
// out-of-band refresh on a miss per spec.md §5 before reporting
// ErrUnknownKid, so a key rotated moments ago is picked up without a
// request ever failing spuriously.
func (c *JWKSCache) Lookup(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	pub, ok := c.keys[kid]
	fresh := time.Since(c.lastFetched) <= c.maxStale
	c.mu.RUnlock()
	if ok && fresh {
		return pub, nil
	}

	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	c.mu.RLock()
	pub, ok = c.keys[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownKid
	}
	return pub, nil
}

func keyFromWire(k jwkWire) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("edge: decode jwk n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("edge: decode jwk e: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
