// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-minecraft/pkg/connector/mojang"
)

// RoomService is everything the bridge needs from the Matrix side.
type RoomService interface {
	BotUserID() id.UserID
	// ResolveRoom turns a room ID or alias into a room ID. Failures wrap
	// ErrUnresolvableRoom.
	ResolveRoom(ctx context.Context, ref string) (id.RoomID, error)
	IsBotJoined(ctx context.Context, roomID id.RoomID) (bool, error)
	PowerLevels(ctx context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error)
	// MemberDisplayName returns "" when the member has no display name.
	MemberDisplayName(ctx context.Context, roomID id.RoomID, userID id.UserID) (string, error)
	SendNotice(ctx context.Context, roomID id.RoomID, text string) error
	AcceptInvite(ctx context.Context, roomID id.RoomID) error
	// SendPlayerMessage posts content as the player's ghost.
	SendPlayerMessage(ctx context.Context, roomID id.RoomID, player mojang.Player, content *event.MessageEventContent) error
	// SetPlayerMembership joins or removes the player's ghost.
	SetPlayerMembership(ctx context.Context, roomID id.RoomID, player mojang.Player, membership event.Membership, reason string) error
}

// matrixRoomService implements RoomService on top of an appservice.
type matrixRoomService struct {
	as      *appservice.AppService
	log     zerolog.Logger
	ghostID func(uuid string) id.UserID
	// avatars is nil when avatar syncing is disabled.
	avatars *avatarSyncer

	ghostMu    sync.Mutex
	ghostNames map[id.UserID]string
}

var _ RoomService = (*matrixRoomService)(nil)

func newMatrixRoomService(as *appservice.AppService, ghostID func(string) id.UserID, avatars *avatarSyncer, log zerolog.Logger) *matrixRoomService {
	return &matrixRoomService{
		as:         as,
		log:        log,
		ghostID:    ghostID,
		avatars:    avatars,
		ghostNames: make(map[id.UserID]string),
	}
}

func (rs *matrixRoomService) BotUserID() id.UserID {
	return rs.as.BotMXID()
}

func (rs *matrixRoomService) ResolveRoom(ctx context.Context, ref string) (id.RoomID, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, "!"):
		return id.RoomID(ref), nil
	case strings.HasPrefix(ref, "#"):
		resp, err := rs.as.BotClient().ResolveAlias(ctx, id.RoomAlias(ref))
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUnresolvableRoom, err)
		}
		return resp.RoomID, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnresolvableRoom, ref)
	}
}

func (rs *matrixRoomService) IsBotJoined(ctx context.Context, roomID id.RoomID) (bool, error) {
	resp, err := rs.as.BotClient().JoinedRooms(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get joined rooms: %w", err)
	}
	return slices.Contains(resp.JoinedRooms, roomID), nil
}

func (rs *matrixRoomService) PowerLevels(ctx context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error) {
	var content event.PowerLevelsEventContent
	err := rs.as.BotClient().StateEvent(ctx, roomID, event.StatePowerLevels, "", &content)
	if err != nil {
		return nil, fmt.Errorf("failed to get power levels: %w", err)
	}
	return &content, nil
}

func (rs *matrixRoomService) MemberDisplayName(ctx context.Context, roomID id.RoomID, userID id.UserID) (string, error) {
	var member event.MemberEventContent
	err := rs.as.BotClient().StateEvent(ctx, roomID, event.StateMember, userID.String(), &member)
	if errors.Is(err, mautrix.MNotFound) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to get member event: %w", err)
	}
	return member.Displayname, nil
}

func (rs *matrixRoomService) SendNotice(ctx context.Context, roomID id.RoomID, text string) error {
	_, err := rs.as.BotClient().SendNotice(ctx, roomID, text)
	if err != nil {
		return fmt.Errorf("failed to send notice: %w", err)
	}
	return nil
}

func (rs *matrixRoomService) AcceptInvite(ctx context.Context, roomID id.RoomID) error {
	_, err := rs.as.BotClient().JoinRoomByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}
	return nil
}

func (rs *matrixRoomService) SendPlayerMessage(ctx context.Context, roomID id.RoomID, player mojang.Player, content *event.MessageEventContent) error {
	intent, err := rs.ghost(ctx, player)
	if err != nil {
		return err
	}
	if err = intent.EnsureJoined(ctx, roomID); err != nil {
		return fmt.Errorf("failed to join ghost: %w", err)
	}
	_, err = intent.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (rs *matrixRoomService) SetPlayerMembership(ctx context.Context, roomID id.RoomID, player mojang.Player, membership event.Membership, reason string) error {
	intent, err := rs.ghost(ctx, player)
	if err != nil {
		return err
	}
	switch membership {
	case event.MembershipJoin:
		if err = intent.EnsureJoined(ctx, roomID); err != nil {
			return fmt.Errorf("failed to join ghost: %w", err)
		}
	case event.MembershipLeave:
		_, err = intent.LeaveRoom(ctx, roomID, &mautrix.ReqLeave{Reason: reason})
		if errors.Is(err, mautrix.MForbidden) {
			// Not in the room.
			rs.log.Debug().Err(err).
				Stringer("room_id", roomID).
				Stringer("ghost", intent.UserID).
				Msg("Ghost couldn't leave room")
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to leave room: %w", err)
		}
	default:
		return fmt.Errorf("unsupported ghost membership %q", membership)
	}
	return nil
}

// ghost returns the intent of the player's ghost, registering it and syncing
// its display name to the player name when needed. The avatar is synced in
// the background.
func (rs *matrixRoomService) ghost(ctx context.Context, player mojang.Player) (*appservice.IntentAPI, error) {
	if player.UUID == "" {
		return nil, fmt.Errorf("player %q has no UUID", player.Name)
	}
	intent := rs.as.Intent(rs.ghostID(player.UUID))
	if err := intent.EnsureRegistered(ctx); err != nil {
		return nil, fmt.Errorf("failed to register ghost: %w", err)
	}
	if rs.avatars != nil {
		rs.avatars.SyncInBackground(ctx, intent.UserID, intent, player.UUID)
	}
	name := player.DisplayName()
	rs.ghostMu.Lock()
	current, known := rs.ghostNames[intent.UserID]
	rs.ghostMu.Unlock()
	if known && current == name {
		return intent, nil
	}
	if err := intent.SetDisplayName(ctx, name); err != nil {
		rs.log.Warn().Err(err).
			Stringer("ghost", intent.UserID).
			Str("name", name).
			Msg("Failed to update ghost display name")
		return intent, nil
	}
	rs.ghostMu.Lock()
	rs.ghostNames[intent.UserID] = name
	rs.ghostMu.Unlock()
	return intent, nil
}
