// Copyright 2024-2026 Aiku AI

// Package bridgetoken issues and verifies the bearer tokens that link a
// Minecraft server to a Matrix room.
//
// A token is two base64url segments joined by a dot: a CBOR payload holding
// the room ID and a random nonce, and a keyed BLAKE3 MAC over that payload.
// The MAC key is derived from the bridge's signing secret, so rotating the
// secret invalidates every outstanding token.
package bridgetoken

import (
	"crypto/hmac"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"
	"maunium.net/go/mautrix/id"
)

const (
	keyContext = "mautrix-minecraft 2026-01-01 bridge token v1"
	macSize    = 32
	nonceSize  = 16
)

// ErrInvalidCredential is returned by Verify for any token that is malformed
// or whose MAC does not match.
var ErrInvalidCredential = errors.New("bridgetoken: invalid credential")

// ErrEmptySecret is returned by New when no signing secret is configured.
var ErrEmptySecret = errors.New("bridgetoken: empty signing secret")

var b64 = base64.RawURLEncoding

type payload struct {
	Room     string `cbor:"1,keyasint"`
	Nonce    []byte `cbor:"2,keyasint"`
	IssuedAt int64  `cbor:"3,keyasint"`
}

// Codec signs and verifies bridge tokens. It holds no mutable state and is
// safe for concurrent use.
type Codec struct {
	key     [32]byte
	encMode cbor.EncMode
	decMode cbor.DecMode
	now     func() time.Time
}

// New derives the MAC key from secret and returns a ready Codec.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	encMode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("bridgetoken: failed to create CBOR encoder: %w", err)
	}
	decMode, err := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("bridgetoken: failed to create CBOR decoder: %w", err)
	}
	c := &Codec{encMode: encMode, decMode: decMode, now: time.Now}
	blake3.DeriveKey(keyContext, []byte(secret), c.key[:])
	return c, nil
}

// Issue returns a fresh token bound to roomID. Two calls for the same room
// never return the same token.
func (c *Codec) Issue(roomID id.RoomID) (string, error) {
	if roomID == "" {
		return "", fmt.Errorf("bridgetoken: empty room ID")
	}
	nonce, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("bridgetoken: failed to generate nonce: %w", err)
	}
	raw, err := c.encMode.Marshal(&payload{
		Room:     string(roomID),
		Nonce:    nonce[:],
		IssuedAt: c.now().Unix(),
	})
	if err != nil {
		return "", fmt.Errorf("bridgetoken: failed to encode payload: %w", err)
	}
	mac, err := c.sign(raw)
	if err != nil {
		return "", err
	}
	return b64.EncodeToString(raw) + "." + b64.EncodeToString(mac), nil
}

// Verify checks the token's MAC and returns the room it was issued for.
func (c *Codec) Verify(token string) (id.RoomID, error) {
	encPayload, encMAC, ok := strings.Cut(token, ".")
	if !ok || encPayload == "" || encMAC == "" {
		return "", fmt.Errorf("%w: wrong segment count", ErrInvalidCredential)
	}
	raw, err := b64.DecodeString(encPayload)
	if err != nil {
		return "", fmt.Errorf("%w: bad payload encoding", ErrInvalidCredential)
	}
	mac, err := b64.DecodeString(encMAC)
	if err != nil || len(mac) != macSize {
		return "", fmt.Errorf("%w: bad signature encoding", ErrInvalidCredential)
	}
	expected, err := c.sign(raw)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(mac, expected) {
		return "", fmt.Errorf("%w: signature mismatch", ErrInvalidCredential)
	}

	var p payload
	if err = c.decMode.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("%w: bad payload: %v", ErrInvalidCredential, err)
	}
	if !strings.HasPrefix(p.Room, "!") || len(p.Nonce) != nonceSize {
		return "", fmt.Errorf("%w: incomplete payload", ErrInvalidCredential)
	}
	return id.RoomID(p.Room), nil
}

func (c *Codec) sign(data []byte) ([]byte, error) {
	h, err := blake3.NewKeyed(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("bridgetoken: failed to create keyed hasher: %w", err)
	}
	_, _ = h.Write(data)
	return h.Sum(nil), nil
}
