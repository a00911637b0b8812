// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-minecraft/pkg/connector/mojang"
)

// HandleMatrixEvent dispatches one event from the appservice transaction
// stream. Errors are logged, never returned: a bad event must not stop the
// event loop.
func (mc *MinecraftConnector) HandleMatrixEvent(ctx context.Context, evt *event.Event) {
	log := mc.Log.With().
		Str("component", "matrix").
		Stringer("event_id", evt.ID).
		Stringer("room_id", evt.RoomID).
		Stringer("sender", evt.Sender).
		Str("event_type", evt.Type.Type).
		Logger()
	ctx = log.WithContext(ctx)
	if !parseContent(ctx, evt) {
		return
	}

	switch evt.Type.Type {
	case event.EventMessage.Type:
		mc.handleMatrixMessage(ctx, evt)
	case event.StateMember.Type:
		mc.handleMatrixMembership(ctx, evt)
	}
}

// parseContent parses raw content left unparsed by the transaction handler.
// It reports false when the event content is malformed.
func parseContent(ctx context.Context, evt *event.Event) bool {
	if evt.Content.Parsed == nil && len(evt.Content.VeryRaw) > 0 {
		if err := evt.Content.ParseRaw(evt.Type); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("Failed to parse event content, ignoring event")
			return false
		}
	}
	if prev := evt.Unsigned.PrevContent; prev != nil && prev.Parsed == nil && len(prev.VeryRaw) > 0 {
		if err := prev.ParseRaw(evt.Type); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("Failed to parse previous event content")
		}
	}
	return true
}

func (mc *MinecraftConnector) handleMatrixMessage(ctx context.Context, evt *event.Event) {
	log := zerolog.Ctx(ctx)
	if mc.IsBridgeUser(evt.Sender) {
		return
	}
	content := evt.Content.AsMessage()
	if content.RelatesTo != nil && content.RelatesTo.GetReplaceID() != "" {
		log.Debug().Msg("Ignoring message edit")
		return
	}
	if content.MsgType == event.MsgText && mc.HandleCommand(ctx, evt.RoomID, evt.Sender, content.Body) {
		return
	}
	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote:
	default:
		log.Debug().Str("msgtype", string(content.MsgType)).Msg("Ignoring unsupported message type")
		return
	}
	bridge, err := mc.Bridges.GetRoomBridge(ctx, evt.RoomID)
	if err != nil {
		log.Err(err).Msg("Failed to look up room bridge")
		return
	} else if bridge == nil {
		return
	}

	sender := mc.senderInfo(ctx, evt.RoomID, evt.Sender)
	body := matrixfmtParse(content)
	var out OutboundEvent
	if content.MsgType == event.MsgEmote {
		out = EmoteMessage{Sender: sender, Body: " * <" + sender.DisplayName + "> " + body}
	} else {
		out = TextMessage{Sender: sender, Body: "<" + sender.DisplayName + "> " + body}
	}
	mc.Outbox.Enqueue(bridge.Token, out)
	log.Debug().
		Str("outbound_type", string(out.Type())).
		Int("queue_length", mc.Outbox.Len(bridge.Token)).
		Msg("Queued message for Minecraft")
}

func (mc *MinecraftConnector) handleMatrixMembership(ctx context.Context, evt *event.Event) {
	log := zerolog.Ctx(ctx)
	if evt.StateKey == nil {
		return
	}
	target := id.UserID(*evt.StateKey)
	content := evt.Content.AsMember()

	if target == mc.BotUserID() {
		if content.Membership == event.MembershipInvite {
			mc.acceptInvite(ctx, evt)
		}
		return
	}
	uuid, isGhost := mc.ParseGhostUserID(target)
	if !isGhost || mc.IsBridgeUser(evt.Sender) {
		return
	}

	var prevMembership event.Membership
	var prevName string
	if evt.Unsigned.PrevContent != nil {
		prev := evt.Unsigned.PrevContent.AsMember()
		prevMembership = prev.Membership
		prevName = prev.Displayname
	}

	var kind OutboundType
	switch {
	case content.Membership == event.MembershipBan:
		kind = OutboundBan
	case content.Membership == event.MembershipLeave && prevMembership == event.MembershipBan:
		kind = OutboundUnban
	case content.Membership == event.MembershipLeave && evt.Sender != target:
		kind = OutboundKick
	default:
		return
	}

	bridge, err := mc.Bridges.GetRoomBridge(ctx, evt.RoomID)
	if err != nil {
		log.Err(err).Msg("Failed to look up room bridge")
		return
	} else if bridge == nil {
		return
	}

	player := mojang.Player{Name: prevName, UUID: uuid}
	if player.Name == "" {
		player.Name = uuid
	}
	sender := mc.senderInfo(ctx, evt.RoomID, evt.Sender)
	var out OutboundEvent
	switch kind {
	case OutboundBan:
		out = BanPlayer{Sender: sender, Player: player, Reason: content.Reason}
	case OutboundUnban:
		out = UnbanPlayer{Sender: sender, Player: player}
	case OutboundKick:
		out = KickPlayer{Sender: sender, Player: player, Reason: content.Reason}
	}
	mc.Outbox.Enqueue(bridge.Token, out)
	log.Debug().
		Str("outbound_type", string(out.Type())).
		Str("player_uuid", uuid).
		Int("queue_length", mc.Outbox.Len(bridge.Token)).
		Msg("Queued membership change for Minecraft")
}

func (mc *MinecraftConnector) acceptInvite(ctx context.Context, evt *event.Event) {
	log := zerolog.Ctx(ctx)
	if err := mc.Rooms.AcceptInvite(ctx, evt.RoomID); err != nil {
		log.Err(err).Msg("Failed to accept invite")
		return
	}
	log.Info().Msg("Accepted room invite")
}

// senderInfo resolves the sender's display name in the room, falling back to
// the user ID.
func (mc *MinecraftConnector) senderInfo(ctx context.Context, roomID id.RoomID, userID id.UserID) Sender {
	name, err := mc.Rooms.MemberDisplayName(ctx, roomID, userID)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Stringer("user_id", userID).Msg("Failed to get sender display name")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = userID.String()
	}
	return Sender{MXID: userID, DisplayName: name}
}
