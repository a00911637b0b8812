// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-minecraft/pkg/connector/database"
)

// HandleMinecraftEvent applies an event reported by the plugin to the bridged
// room, acting as the player's ghost.
func (mc *MinecraftConnector) HandleMinecraftEvent(ctx context.Context, bridge *database.Bridge, evt InboundEvent) error {
	player := evt.Subject()
	log := zerolog.Ctx(ctx).With().
		Stringer("room_id", bridge.RoomID).
		Str("player", player.Name).
		Str("player_uuid", player.UUID).
		Logger()

	var err error
	switch e := evt.(type) {
	case ChatMessage:
		err = mc.Rooms.SendPlayerMessage(ctx, bridge.RoomID, e.Player, minecraftfmtParse(e.Message))
	case PlayerJoined:
		err = mc.Rooms.SetPlayerMembership(ctx, bridge.RoomID, e.Player, event.MembershipJoin, "")
	case PlayerQuit:
		err = mc.Rooms.SetPlayerMembership(ctx, bridge.RoomID, e.Player, event.MembershipLeave, "")
	case PlayerKicked:
		err = mc.Rooms.SetPlayerMembership(ctx, bridge.RoomID, e.Player, event.MembershipLeave, e.Reason)
	default:
		return fmt.Errorf("unknown inbound event %T", evt)
	}
	if err != nil {
		return fmt.Errorf("failed to relay %T to room: %w", evt, err)
	}
	log.Debug().Str("inbound_type", fmt.Sprintf("%T", evt)).Msg("Relayed Minecraft event to Matrix")
	return nil
}
