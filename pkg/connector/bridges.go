// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-minecraft/pkg/connector/bridgetoken"
	"github.com/aiku/mautrix-minecraft/pkg/connector/database"
)

// maxIssueAttempts bounds retries on token collisions in the store.
const maxIssueAttempts = 3

// BridgeManager is the single authority on which rooms are bridged. It mints
// tokens with the codec, persists them in the store and tears down the
// outbound queue when a bridge goes away.
type BridgeManager struct {
	log    zerolog.Logger
	codec  *bridgetoken.Codec
	store  *database.BridgeQuery
	outbox *Outbox
}

func NewBridgeManager(codec *bridgetoken.Codec, store *database.BridgeQuery, outbox *Outbox, log zerolog.Logger) *BridgeManager {
	return &BridgeManager{
		log:    log,
		codec:  codec,
		store:  store,
		outbox: outbox,
	}
}

// Bridge creates a bridge for roomID. It returns ErrAlreadyBridged when the
// room already has one, including when a concurrent call won the race.
func (bm *BridgeManager) Bridge(ctx context.Context, roomID id.RoomID) (*database.Bridge, error) {
	if bridged, err := bm.store.HasRoom(ctx, roomID); err != nil {
		return nil, fmt.Errorf("failed to check bridge state: %w", err)
	} else if bridged {
		return nil, ErrAlreadyBridged
	}
	for range maxIssueAttempts {
		token, err := bm.codec.Issue(roomID)
		if err != nil {
			return nil, fmt.Errorf("failed to issue token: %w", err)
		}
		bridge, err := bm.store.Put(ctx, token, roomID)
		switch {
		case err == nil:
			bm.log.Info().Stringer("room_id", roomID).Msg("Room bridged")
			return bridge, nil
		case errors.Is(err, database.ErrRoomBridged):
			return nil, ErrAlreadyBridged
		case errors.Is(err, database.ErrTokenExists):
			bm.log.Warn().Stringer("room_id", roomID).Msg("Issued token collided with an existing one, retrying")
		default:
			return nil, fmt.Errorf("failed to store bridge: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to store bridge: %w", database.ErrTokenExists)
}

// Unbridge removes the bridge of roomID and discards its undelivered events.
// It reports whether the room was bridged.
func (bm *BridgeManager) Unbridge(ctx context.Context, roomID id.RoomID) (bool, error) {
	bridge, err := bm.store.GetByRoom(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to get bridge: %w", err)
	} else if bridge == nil {
		return false, nil
	}
	removed, err := bm.store.RemoveByRoom(ctx, roomID)
	if err != nil {
		return false, err
	}
	dropped := bm.outbox.Drop(bridge.Token)
	bm.log.Info().
		Stringer("room_id", roomID).
		Int("dropped_events", dropped).
		Msg("Room unbridged")
	return removed, nil
}

// GetBridge returns the bridge identified by token. Unknown tokens and tokens
// that fail verification both yield ErrNotBridged; the actual reason is only
// logged.
func (bm *BridgeManager) GetBridge(ctx context.Context, token string) (*database.Bridge, error) {
	roomID, err := bm.codec.Verify(token)
	if err != nil {
		bm.log.Debug().Err(err).Msg("Rejected bridge token")
		return nil, ErrNotBridged
	}
	bridge, err := bm.store.GetByToken(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get bridge: %w", err)
	} else if bridge == nil {
		bm.log.Debug().Stringer("room_id", roomID).Msg("Rejected bridge token: not in store")
		return nil, ErrNotBridged
	} else if bridge.RoomID != roomID {
		bm.log.Debug().
			Stringer("room_id", roomID).
			Stringer("stored_room_id", bridge.RoomID).
			Msg("Rejected bridge token: room mismatch")
		return nil, ErrNotBridged
	}
	return bridge, nil
}

// GetRoomBridge returns the bridge of roomID, or nil if there is none.
func (bm *BridgeManager) GetRoomBridge(ctx context.Context, roomID id.RoomID) (*database.Bridge, error) {
	bridge, err := bm.store.GetByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bridge: %w", err)
	}
	return bridge, nil
}

func (bm *BridgeManager) IsRoomBridged(ctx context.Context, roomID id.RoomID) (bool, error) {
	bridged, err := bm.store.HasRoom(ctx, roomID)
	if err != nil {
		return false, fmt.Errorf("failed to check bridge state: %w", err)
	}
	return bridged, nil
}
