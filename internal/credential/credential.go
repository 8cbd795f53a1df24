// Package credential mints and verifies the opaque peer credentials that
// carry a peer's identity, room, and role across RPC calls (spec.md §4.1).
// Everything outside this package treats a credential as an opaque blob;
// only the codec here inspects the signed claims.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/drophub/drophub/internal/ids"
)

// Role distinguishes a room's host from its guests.
type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

// Claims is the signed payload carried by an access blob.
type Claims struct {
	PeerID ids.PeerId `json:"peer_id"`
	RoomID uint64     `json:"room_id"`
	Role   Role       `json:"role"`
	jwt.RegisteredClaims
}

var (
	// ErrMalformedBlob means the blob could not be parsed as a token at all.
	ErrMalformedBlob = errors.New("credential: malformed blob")
	// ErrBadSignature means the blob parsed but its signature didn't verify.
	ErrBadSignature = errors.New("credential: bad signature")
	// ErrExpired means the blob verified but its expiry has passed.
	ErrExpired = errors.New("credential: expired")
)

// Codec mints and verifies credentials. It is pure: the only state it
// carries is the symmetric signing secret and the configured TTLs.
type Codec struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewCodec builds a Codec around a symmetric secret drawn from
// configuration (config.CredentialSecret).
func NewCodec(secret []byte, accessTTL, refreshTTL time.Duration) *Codec {
	return &Codec{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// Refresh is the opaque, longer-lived handle returned alongside an access
// blob. The refresh exchange itself is not part of the core (spec.md §4.1);
// this package only mints an unguessable, unpredictable handle with its own
// expiry and leaves redemption to an external collaborator.
type Refresh struct {
	Blob   string
	Expiry time.Time
}

// Mint produces a fresh access blob and refresh handle for a peer that has
// just joined (or been confirmed in) a room.
func (c *Codec) Mint(peerID ids.PeerId, roomID ids.RoomId, role Role, now time.Time) (access string, refresh Refresh, err error) {
	exp := now.Add(c.accessTTL)
	claims := Claims{
		PeerID: peerID,
		RoomID: uint64(roomID),
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", Refresh{}, err
	}

	refreshBlob, err := randomHandle()
	if err != nil {
		return "", Refresh{}, err
	}
	return signed, Refresh{Blob: refreshBlob, Expiry: now.Add(c.refreshTTL)}, nil
}

// Verify parses and validates an access blob against now, which production
// callers set to the wall clock and tests may inject. Expiry follows the
// correct polarity: a blob is expired iff its exp is not strictly after
// now (spec.md §9 — the source's inverted check is not reproduced here).
func (c *Codec) Verify(access string, now time.Time) (Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(access, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrBadSignature
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return now }), jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpired
		}
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return Claims{}, ErrBadSignature
		}
		return Claims{}, ErrMalformedBlob
	}
	if !tok.Valid {
		return Claims{}, ErrMalformedBlob
	}
	if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(now) {
		return Claims{}, ErrExpired
	}
	return claims, nil
}

func randomHandle() (string, error) {
	var b [24]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}
