// Package directory maintains the identity / nickname / encryption-key
// directory.
//
// Nickname-to-identity is a bijection across all profiles with a non-null
// nickname. The mapping entry "nick/<nickname>" is claimed with a
// conditional write, so two identities racing for the same nickname resolve
// to exactly one winner; the loser observes a conflict.
package directory

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/solink/solink-server/apierrors"
	"github.com/solink/solink-server/identity"
	"github.com/solink/solink-server/kvstore"
)

// NicknameCooldown gates nickname changes to one per 7 days.
const NicknameCooldown = 7 * 24 * time.Hour

var nicknamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{2,15}$`)

// Profile is the public directory record for one identity.
type Profile struct {
	Pubkey              string `json:"pubkey"`
	Nickname            string `json:"nickname,omitempty"`
	DisplayName         string `json:"displayName,omitempty"`
	EncryptionPublicKey string `json:"encryptionPublicKey,omitempty"`
	CreatedAt           int64  `json:"createdAt"`                   // Unix millis.
	UpdatedAt           int64  `json:"updatedAt"`                   // Unix millis.
	NicknameChangedAt   int64  `json:"nicknameChangedAt,omitempty"` // Unix millis.
}

// Directory reads and writes profiles against the shared store.
type Directory struct {
	store *kvstore.Store
	log   zerolog.Logger
	now   func() time.Time
}

// Option customizes a Directory.
type Option func(*Directory)

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// New returns a directory backed by store.
func New(store *kvstore.Store, log zerolog.Logger, opts ...Option) *Directory {
	d := &Directory{
		store: store,
		log:   log.With().Str("component", "directory").Logger(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// GetOwn returns the caller's profile, creating an empty one on first touch.
func (d *Directory) GetOwn(pubkey string) (Profile, error) {
	canonical, err := identity.Normalize(pubkey)
	if err != nil {
		return Profile{}, err
	}
	if p, ok := d.read(canonical); ok {
		return p, nil
	}
	now := d.now().UnixMilli()
	p := Profile{Pubkey: canonical, CreatedAt: now, UpdatedAt: now}
	if err := d.write(p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// LookupByPubkey returns the profile for an identity, if one exists.
func (d *Directory) LookupByPubkey(pubkey string) (Profile, error) {
	canonical, err := identity.Normalize(pubkey)
	if err != nil {
		return Profile{}, err
	}
	p, ok := d.read(canonical)
	if !ok {
		return Profile{}, apierrors.New(apierrors.CodeNotFound, "profile not found")
	}
	return p, nil
}

// LookupByNickname resolves a nickname to its owning profile.
func (d *Directory) LookupByNickname(nickname string) (Profile, error) {
	norm, err := NormalizeNickname(nickname)
	if err != nil {
		return Profile{}, err
	}
	owner, ok := d.store.Get(nickKey(norm))
	if !ok {
		return Profile{}, apierrors.New(apierrors.CodeNotFound, "nickname not found")
	}
	p, ok := d.read(string(owner))
	if !ok {
		return Profile{}, apierrors.New(apierrors.CodeNotFound, "nickname not found")
	}
	return p, nil
}

// SetNickname claims a nickname for pubkey, enforcing pattern, blocklist,
// uniqueness, and the change cooldown.
func (d *Directory) SetNickname(pubkey, nickname string) (Profile, error) {
	canonical, err := identity.Normalize(pubkey)
	if err != nil {
		return Profile{}, err
	}
	norm, err := NormalizeNickname(nickname)
	if err != nil {
		return Profile{}, err
	}

	p, err := d.GetOwn(canonical)
	if err != nil {
		return Profile{}, err
	}
	if p.Nickname == norm {
		return p, nil
	}
	now := d.now()
	if p.Nickname != "" && p.NicknameChangedAt > 0 {
		elapsed := now.Sub(time.UnixMilli(p.NicknameChangedAt))
		if elapsed < NicknameCooldown {
			remaining := NicknameCooldown - elapsed
			days := int(remaining.Hours()/24) + 1
			return Profile{}, apierrors.Newf(apierrors.CodeCooldownActive,
				"nickname can be changed again in %d day(s)", days)
		}
	}

	// Conditional claim: the loser of a concurrent race lands here with a
	// live mapping owned by someone else.
	if !d.store.SetIfAbsent(nickKey(norm), []byte(canonical), 0) {
		owner, _ := d.store.Get(nickKey(norm))
		if string(owner) != canonical {
			return Profile{}, apierrors.New(apierrors.CodeConflict, "nickname already taken")
		}
	}
	if p.Nickname != "" {
		d.store.Delete(nickKey(p.Nickname))
	}

	p.Nickname = norm
	p.DisplayName = "@" + norm
	p.NicknameChangedAt = now.UnixMilli()
	p.UpdatedAt = now.UnixMilli()
	if err := d.write(p); err != nil {
		return Profile{}, err
	}
	d.log.Info().Str("pubkey", canonical).Str("nickname", norm).Msg("nickname set")
	return p, nil
}

// SetEncryptionKey stores the caller's public encryption key. The value is
// opaque to the server.
func (d *Directory) SetEncryptionKey(pubkey, key string) (Profile, error) {
	canonical, err := identity.Normalize(pubkey)
	if err != nil {
		return Profile{}, err
	}
	if strings.TrimSpace(key) == "" {
		return Profile{}, apierrors.New(apierrors.CodeBadRequest, "missing publicKey")
	}
	p, err := d.GetOwn(canonical)
	if err != nil {
		return Profile{}, err
	}
	p.EncryptionPublicKey = key
	p.UpdatedAt = d.now().UnixMilli()
	if err := d.write(p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// NormalizeNickname strips a leading "@", lowercases, and validates the
// candidate against the pattern and the blocklist.
func NormalizeNickname(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "@")
	if !nicknamePattern.MatchString(s) {
		return "", apierrors.New(apierrors.CodeBadRequest,
			"nickname must be 3-16 chars: lowercase letter first, then letters, digits, underscores")
	}
	if isBlocked(s) {
		return "", apierrors.New(apierrors.CodeBadRequest, "nickname not available")
	}
	return s, nil
}

func (d *Directory) read(pubkey string) (Profile, bool) {
	b, ok := d.store.Get(profileKey(pubkey))
	if !ok {
		return Profile{}, false
	}
	var p Profile
	if err := json.Unmarshal(b, &p); err != nil {
		d.log.Error().Str("pubkey", pubkey).Err(err).Msg("corrupt profile record")
		return Profile{}, false
	}
	return p, true
}

func (d *Directory) write(p Profile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return apierrors.Wrap(apierrors.CodeInternal, "profile write failed", err)
	}
	d.store.Set(profileKey(p.Pubkey), b, 0)
	return nil
}

func profileKey(pubkey string) string { return "profile/" + pubkey }
func nickKey(nickname string) string  { return "nick/" + nickname }
