// Package identity normalizes and validates wallet identities.
//
// An identity is the base58 form of a 32-byte ed25519 public key. Users
// paste identities in several shapes (bare key, share-link fragment, full
// share URL); Normalize reduces all of them to the canonical base58 string.
package identity

import (
	"crypto/ed25519"
	"net/url"
	"regexp"
	"strings"

	"github.com/mr-tron/base58"

	"github.com/solink/solink-server/apierrors"
)

// Pattern matches the base58 alphabet at wallet key lengths.
var Pattern = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)

const dmFragmentPrefix = "#/dm/"

// Normalize accepts a bare base58 pubkey, a "#/dm/<pubkey>" fragment, or an
// HTTPS share URL whose last path segment or fragment resolves to one of
// those, and returns the canonical base58 identity.
func Normalize(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", apierrors.New(apierrors.CodeBadRequest, "missing pubkey")
	}
	if strings.HasPrefix(s, dmFragmentPrefix) {
		s = strings.TrimPrefix(s, dmFragmentPrefix)
	} else if strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") {
		tail, err := urlTail(s)
		if err != nil {
			return "", err
		}
		s = tail
	}
	if err := Validate(s); err != nil {
		return "", err
	}
	return s, nil
}

// Validate checks that s is a well-formed identity: base58 alphabet at
// wallet key length, decoding to exactly 32 bytes.
func Validate(s string) error {
	if !Pattern.MatchString(s) {
		return apierrors.New(apierrors.CodeBadRequest, "invalid pubkey")
	}
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return apierrors.New(apierrors.CodeBadRequest, "invalid pubkey")
	}
	return nil
}

// PublicKey decodes a validated identity into its ed25519 public key.
func PublicKey(s string) (ed25519.PublicKey, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, apierrors.New(apierrors.CodeBadRequest, "invalid pubkey")
	}
	return ed25519.PublicKey(raw), nil
}

// Encode returns the base58 identity for an ed25519 public key.
func Encode(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}

// urlTail pulls the candidate identity out of a share URL: the fragment's
// "/dm/<pubkey>" tail when present, otherwise the last path segment.
func urlTail(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", apierrors.New(apierrors.CodeBadRequest, "invalid pubkey url")
	}
	if u.Fragment != "" {
		frag := u.Fragment
		if strings.HasPrefix(frag, "/dm/") {
			frag = strings.TrimPrefix(frag, "/dm/")
		}
		frag = strings.Trim(frag, "/")
		if frag != "" {
			return frag, nil
		}
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	tail := segs[len(segs)-1]
	if tail == "" {
		return "", apierrors.New(apierrors.CodeBadRequest, "invalid pubkey url")
	}
	return tail, nil
}
