// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

const helpText = "Command List:\n" +
	" - bridge <room ID>: This will provide an access token to give a" +
	" Minecraft server to send and retrieve messages in the room with.\n" +
	" - unbridge [<room ID>]: This will forcefully invalidate any tokens" +
	" corresponding with this room\n" +
	" - announce <...announcement>: This will send an announcement as" +
	" \"Server\". Send this command in a bridged room."

const (
	noticeNotWhitelisted = "You are not whitelisted in the bridge config"
	noticeAlreadyBridged = "This room is already bridged to a server."
	noticeUnbridged      = "Room has been unbridged."
	noticeNeverBridged   = "The room was never bridged."
	noticeAnnounced      = "Sent!"
	noticeNotBridged     = "This room isn't bridged."
	noticeGenericFailure = "Something went wrong"
)

// defaultStateLevel applies when the power levels don't set state_default.
const defaultStateLevel = 50

// CommandContext is one command line sent in a room.
type CommandContext struct {
	RoomID id.RoomID
	Sender id.UserID
	// Args are the words after the command prefix.
	Args []string
	// Rest is the raw text after the subcommand, with its spacing intact.
	Rest string
	Log  zerolog.Logger
}

// parseCommand splits body into a command if it starts with prefix.
func parseCommand(prefix, body string) (args []string, rest string, ok bool) {
	body = strings.TrimSpace(body)
	head, tail := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		head, tail = body[:i], body[i:]
	}
	if head != prefix {
		return nil, "", false
	}
	args = strings.Fields(tail)
	if len(args) > 0 {
		_, rest, _ = strings.Cut(strings.TrimSpace(tail), args[0])
		rest = strings.TrimSpace(rest)
	}
	return args, rest, true
}

// HandleCommand runs body as a bridge command if it has the command prefix.
// It reports whether body was a command.
func (mc *MinecraftConnector) HandleCommand(ctx context.Context, roomID id.RoomID, sender id.UserID, body string) bool {
	args, rest, ok := parseCommand(mc.Config.Bridge.CommandPrefix, body)
	if !ok {
		return false
	}
	cmd := &CommandContext{
		RoomID: roomID,
		Sender: sender,
		Args:   args,
		Rest:   rest,
		Log: mc.Log.With().
			Str("component", "commands").
			Stringer("room_id", roomID).
			Stringer("sender", sender).
			Logger(),
	}
	var sub string
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
	}
	cmd.Log.Debug().Str("command", sub).Msg("Handling command")
	switch sub {
	case "bridge":
		mc.cmdBridge(ctx, cmd)
	case "unbridge":
		mc.cmdUnbridge(ctx, cmd)
	case "announce":
		mc.cmdAnnounce(ctx, cmd)
	default:
		mc.reply(ctx, cmd, helpText)
	}
	return true
}

func (mc *MinecraftConnector) cmdBridge(ctx context.Context, cmd *CommandContext) {
	if !mc.Config.Bridge.IsWhitelisted(cmd.Sender) {
		mc.reply(ctx, cmd, noticeNotWhitelisted)
		return
	}
	if len(cmd.Args) < 2 {
		mc.reply(ctx, cmd, helpText)
		return
	}
	target, err := mc.Rooms.ResolveRoom(ctx, cmd.Args[1])
	if err != nil {
		mc.replyError(ctx, cmd, err)
		return
	}
	joined, err := mc.Rooms.IsBotJoined(ctx, target)
	if err != nil {
		mc.replyError(ctx, cmd, err)
		return
	} else if !joined {
		mc.reply(ctx, cmd, fmt.Sprintf(
			"Bridge bot is not in that room. Please invite %s to the room and try again.",
			mc.Rooms.BotUserID(),
		))
		return
	}
	if ok, err := mc.checkPrivilege(ctx, cmd, target); err != nil {
		mc.replyError(ctx, cmd, err)
		return
	} else if !ok {
		return
	}
	bridge, err := mc.Bridges.Bridge(ctx, target)
	if err != nil {
		mc.replyError(ctx, cmd, err)
		return
	}
	cmd.Log.Info().Stringer("target_room_id", target).Msg("Bridged room by command")
	mc.reply(ctx, cmd, "Bridged! Go-to the Minecraft server and execute\"/bridge <token>\"\n"+bridge.Token)
}

func (mc *MinecraftConnector) cmdUnbridge(ctx context.Context, cmd *CommandContext) {
	target := cmd.RoomID
	if len(cmd.Args) > 1 {
		var err error
		target, err = mc.Rooms.ResolveRoom(ctx, cmd.Args[1])
		if err != nil {
			mc.replyError(ctx, cmd, err)
			return
		}
	}
	if ok, err := mc.checkPrivilege(ctx, cmd, target); err != nil {
		mc.replyError(ctx, cmd, err)
		return
	} else if !ok {
		return
	}
	existed, err := mc.Bridges.Unbridge(ctx, target)
	if err != nil {
		mc.replyError(ctx, cmd, err)
	} else if existed {
		mc.reply(ctx, cmd, noticeUnbridged)
	} else {
		mc.reply(ctx, cmd, noticeNeverBridged)
	}
}

func (mc *MinecraftConnector) cmdAnnounce(ctx context.Context, cmd *CommandContext) {
	if ok, err := mc.checkPrivilege(ctx, cmd, cmd.RoomID); err != nil {
		mc.replyError(ctx, cmd, err)
		return
	} else if !ok {
		return
	}
	bridge, err := mc.Bridges.GetRoomBridge(ctx, cmd.RoomID)
	if err != nil {
		mc.replyError(ctx, cmd, err)
		return
	} else if bridge == nil {
		mc.reply(ctx, cmd, noticeNotBridged)
		return
	}
	mc.Outbox.Enqueue(bridge.Token, Announcement{
		Sender: mc.senderInfo(ctx, cmd.RoomID, cmd.Sender),
		Body:   cmd.Rest,
	})
	cmd.Log.Debug().Int("queue_length", mc.Outbox.Len(bridge.Token)).Msg("Queued announcement")
	mc.reply(ctx, cmd, noticeAnnounced)
}

// checkPrivilege requires the sender's power level in target to reach the
// room's state_default. It sends the refusal notice itself.
func (mc *MinecraftConnector) checkPrivilege(ctx context.Context, cmd *CommandContext, target id.RoomID) (bool, error) {
	pl, err := mc.Rooms.PowerLevels(ctx, target)
	if err != nil {
		return false, err
	}
	required := defaultStateLevel
	if pl.StateDefaultPtr != nil {
		required = *pl.StateDefaultPtr
	}
	// Only explicit user levels count; users_default doesn't apply.
	have := pl.Users[cmd.Sender]
	if have >= required {
		return true, nil
	}
	cmd.Log.Debug().
		Int("required", required).
		Int("have", have).
		Msg("Sender lacks power level for command")
	mc.reply(ctx, cmd, fmt.Sprintf("You need a higher power level (<%d)", required))
	return false, nil
}

func (mc *MinecraftConnector) replyError(ctx context.Context, cmd *CommandContext, err error) {
	switch {
	case errors.Is(err, ErrUnresolvableRoom):
		cmd.Log.Debug().Err(err).Msg("Couldn't resolve room in command")
		mc.reply(ctx, cmd, helpText)
	case errors.Is(err, ErrAlreadyBridged):
		mc.reply(ctx, cmd, noticeAlreadyBridged)
	default:
		cmd.Log.Err(err).Msg("Command failed")
		if msg := userFacingError(err); msg != "" {
			mc.reply(ctx, cmd, "Something went wrong: "+msg)
		} else {
			mc.reply(ctx, cmd, noticeGenericFailure)
		}
	}
}

func (mc *MinecraftConnector) reply(ctx context.Context, cmd *CommandContext, text string) {
	if err := mc.Rooms.SendNotice(ctx, cmd.RoomID, text); err != nil {
		cmd.Log.Err(err).Msg("Failed to send command reply")
	}
}
