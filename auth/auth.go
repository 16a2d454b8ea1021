// Package auth implements challenge/response wallet authentication:
// single-use nonces, ed25519 signature verification, and bearer sessions.
//
// A nonce can satisfy at most one Verify call: consumption happens on the
// read path (atomic read-and-delete), so concurrent verifies with the same
// nonce race for a single win. Every failure surfaces to clients as the one
// opaque unauthorized error; logs keep the distinguishing cause.
package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"io"
	"time"

	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"github.com/solink/solink-server/apierrors"
	"github.com/solink/solink-server/identity"
	"github.com/solink/solink-server/internal/base64url"
	"github.com/solink/solink-server/kvstore"
)

const (
	NonceTTL = 5 * time.Minute

	nonceBytes = 16
	tokenBytes = 24

	// Session TTL clamp bounds and default, in seconds.
	MinSessionTTLSeconds     = 900
	MaxSessionTTLSeconds     = 43200
	DefaultSessionTTLSeconds = 3600
)

// Internal failure causes; clients only ever see apierrors.ErrUnauthorized.
var (
	errNoNonce          = errors.New("no nonce issued")
	errNonceMismatch    = errors.New("nonce mismatch")
	errInvalidSignature = errors.New("invalid signature")
)

// Challenge is an issued nonce and its expiry.
type Challenge struct {
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"` // Unix millis.
}

// Service issues challenges and sessions against the shared store.
type Service struct {
	store      *kvstore.Store
	log        zerolog.Logger
	now        func() time.Time
	rand       io.Reader
	defaultTTL int
}

// Option customizes a Service.
type Option func(*Service)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRand injects a randomness source for tests.
func WithRand(r io.Reader) Option {
	return func(s *Service) { s.rand = r }
}

// WithDefaultSessionTTL overrides the session lifetime applied when a verify
// request names none. The value is still subject to the clamp bounds.
func WithDefaultSessionTTL(seconds int) Option {
	return func(s *Service) {
		if seconds > 0 {
			s.defaultTTL = seconds
		}
	}
}

// New returns an auth service backed by store.
func New(store *kvstore.Store, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:      store,
		log:        log.With().Str("component", "auth").Logger(),
		now:        time.Now,
		rand:       rand.Reader,
		defaultTTL: DefaultSessionTTLSeconds,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueNonce generates and stores a single-use challenge for pubkey.
// Re-issuing replaces any outstanding challenge.
func (s *Service) IssueNonce(pubkey string) (Challenge, error) {
	canonical, err := identity.Normalize(pubkey)
	if err != nil {
		return Challenge{}, err
	}
	buf := make([]byte, nonceBytes)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return Challenge{}, apierrors.Wrap(apierrors.CodeInternal, "nonce generation failed", err)
	}
	nonce := base64url.Encode(buf)
	s.store.Set(nonceKey(canonical), []byte(nonce), NonceTTL)
	return Challenge{
		Nonce:     nonce,
		ExpiresAt: s.now().Add(NonceTTL).UnixMilli(),
	}, nil
}

// Verify consumes the outstanding nonce for pubkey, checks the ed25519
// signature over the exact nonce bytes, and mints a session token with the
// clamped TTL. The nonce is consumed even when verification fails.
func (s *Service) Verify(pubkey, nonce, signature string, ttlSeconds int) (string, error) {
	canonical, err := identity.Normalize(pubkey)
	if err != nil {
		return "", err
	}
	stored, ok := s.store.GetDel(nonceKey(canonical))
	if !ok {
		return "", s.unauthorized(canonical, errNoNonce)
	}
	if subtle.ConstantTimeCompare(stored, []byte(nonce)) != 1 {
		return "", s.unauthorized(canonical, errNonceMismatch)
	}
	pub, err := identity.PublicKey(canonical)
	if err != nil {
		return "", s.unauthorized(canonical, err)
	}
	sig, err := decodeSignature(signature)
	if err != nil {
		return "", s.unauthorized(canonical, err)
	}
	if !ed25519.Verify(pub, []byte(nonce), sig) {
		return "", s.unauthorized(canonical, errInvalidSignature)
	}

	token, err := s.mintSession(canonical, ttlSeconds)
	if err != nil {
		return "", err
	}
	s.log.Info().Str("pubkey", canonical).Msg("session created")
	return token, nil
}

// Resolve returns the identity behind a live session token.
func (s *Service) Resolve(token string) (string, error) {
	if token == "" {
		return "", apierrors.ErrUnauthorized
	}
	v, ok := s.store.Get(sessionKey(token))
	if !ok {
		return "", apierrors.ErrUnauthorized
	}
	return string(v), nil
}

// Revoke drops a session token.
func (s *Service) Revoke(token string) {
	s.store.Delete(sessionKey(token))
}

// ClampSessionTTL bounds a requested session lifetime to [15min, 12h],
// falling back to the one-hour default for non-positive requests.
func ClampSessionTTL(seconds int) int {
	return clampSessionTTL(seconds, DefaultSessionTTLSeconds)
}

func clampSessionTTL(seconds, fallback int) int {
	if seconds <= 0 {
		seconds = fallback
	}
	if seconds < MinSessionTTLSeconds {
		return MinSessionTTLSeconds
	}
	if seconds > MaxSessionTTLSeconds {
		return MaxSessionTTLSeconds
	}
	return seconds
}

func (s *Service) mintSession(pubkey string, ttlSeconds int) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.rand, buf); err != nil {
		return "", apierrors.Wrap(apierrors.CodeInternal, "token generation failed", err)
	}
	token := base64url.Encode(buf)
	ttl := time.Duration(clampSessionTTL(ttlSeconds, s.defaultTTL)) * time.Second
	s.store.Set(sessionKey(token), []byte(pubkey), ttl)
	return token, nil
}

func (s *Service) unauthorized(pubkey string, cause error) error {
	s.log.Warn().Str("pubkey", pubkey).Err(cause).Msg("verify rejected")
	return apierrors.Wrap(apierrors.CodeUnauthorized, "unauthorized", cause)
}

// decodeSignature accepts an ed25519 signature in base64url (no padding) or
// base58, the two encodings wallets emit in practice.
func decodeSignature(s string) ([]byte, error) {
	if s == "" {
		return nil, errInvalidSignature
	}
	if b, err := base64url.Decode(s); err == nil && len(b) == ed25519.SignatureSize {
		return b, nil
	}
	if b, err := base58.Decode(s); err == nil && len(b) == ed25519.SignatureSize {
		return b, nil
	}
	return nil, errInvalidSignature
}

func nonceKey(pubkey string) string  { return "nonce/" + pubkey }
func sessionKey(token string) string { return "session/" + token }
