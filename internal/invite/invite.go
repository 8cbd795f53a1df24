// Package invite mints unambiguous short passphrases and tracks their TTL
// (spec.md §4.2). Each room owns its own TTLMap; the generator itself is
// stateless beyond the room's existing set of live passphrases, which it
// consults to re-roll on collision.
package invite

import (
	"crypto/rand"
	"errors"
	"time"

	"github.com/drophub/drophub/internal/ids"
)

// Passphrase is a 6-8 character, case-sensitive string drawn from an
// unambiguous alphabet (digits 2-9, lowercase letters excluding i, l, o).
type Passphrase string

// alphabet excludes 0, 1, and the visually-similar i, l, o.
const alphabet = "23456789abcdefghjkmnpqrstuvwxyz"

const length = 8

// ErrGenerationFailure is returned when the underlying RNG fails, or when
// maxAttempts candidates in a row all collide; ordinary collisions are
// re-rolled internally.
var ErrGenerationFailure = errors.New("invite: generation failure")

// maxAttempts bounds the collision-reroll loop. With a 31-symbol alphabet
// and 8-character codes the collision probability against any reasonably
// sized room invite set is vanishingly small; this is a backstop against a
// misbehaving caller, not a capacity limit.
const maxAttempts = 64

// Invite is a single-use, room-scoped credential for joining as a guest.
type Invite struct {
	Passphrase Passphrase
	RoomID     ids.RoomId
	Expiry     time.Time
}

// Generate produces a fresh passphrase for which exists reports false; the
// room passes its invite map's liveness check as exists, so expired entries
// don't force a re-roll.
func Generate(exists func(Passphrase) bool) (Passphrase, error) {
	for i := 0; i < maxAttempts; i++ {
		candidate, err := randomPassphrase()
		if err != nil {
			return "", ErrGenerationFailure
		}
		if !exists(candidate) {
			return candidate, nil
		}
	}
	return "", ErrGenerationFailure
}

func randomPassphrase() (Passphrase, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}
	return Passphrase(out), nil
}

// TTLMap is a room-owned map of live invites, keyed by passphrase. Entries
// are treated as gone once their expiry has passed, whether or not Sweep
// has run yet — Sweep merely reclaims memory.
type TTLMap struct {
	m map[Passphrase]Invite
}

// NewTTLMap returns an empty invite map. Callers are expected to guard
// access with the owning room's lock; TTLMap itself is not concurrency-safe.
func NewTTLMap() *TTLMap {
	return &TTLMap{m: make(map[Passphrase]Invite)}
}

// Add inserts an invite. Callers must have already checked capacity.
func (t *TTLMap) Add(inv Invite) {
	t.m[inv.Passphrase] = inv
}

// Get returns the invite for p if it exists and is unexpired as of now.
func (t *TTLMap) Get(p Passphrase, now time.Time) (Invite, bool) {
	inv, ok := t.m[p]
	if !ok || !now.Before(inv.Expiry) {
		return Invite{}, false
	}
	return inv, true
}

// Remove deletes p unconditionally (used both for explicit revocation and
// for single-use consumption on redemption).
func (t *TTLMap) Remove(p Passphrase) {
	delete(t.m, p)
}

// Exists reports whether p is present and unexpired, for use as the
// collision-check predicate passed to Generate.
func (t *TTLMap) Exists(p Passphrase, now time.Time) bool {
	_, ok := t.Get(p, now)
	return ok
}

// Live returns the passphrases of every unexpired invite, for RoomInfo
// snapshots and capacity checks (spec.md invariant 4).
func (t *TTLMap) Live(now time.Time) []Passphrase {
	out := make([]Passphrase, 0, len(t.m))
	for p, inv := range t.m {
		if now.Before(inv.Expiry) {
			out = append(out, p)
		}
	}
	return out
}

// Sweep reclaims memory held by expired entries. It does not change the
// observable behavior of Get/Exists/Live, which already treat expired
// entries as absent.
func (t *TTLMap) Sweep(now time.Time) {
	for p, inv := range t.m {
		if !now.Before(inv.Expiry) {
			delete(t.m, p)
		}
	}
}
