// Copyright 2024-2026 Aiku AI

package connector

import (
	"regexp"
	"strings"

	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-minecraft/pkg/connector/mojang"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{32}$`)

// MakeGhostUserID returns the Matrix user ID of the ghost that represents a
// Minecraft player: <prefix><uuid>:<domain>.
func (mc *MinecraftConnector) MakeGhostUserID(playerUUID string) id.UserID {
	return id.NewUserID(mc.Config.AppService.UsernamePrefix+mojang.NormalizeUUID(playerUUID), mc.Config.Homeserver.Domain)
}

// ParseGhostUserID extracts the player UUID from a ghost user ID. It reports
// false for users outside the ghost namespace, including the bridge bot.
func (mc *MinecraftConnector) ParseGhostUserID(userID id.UserID) (string, bool) {
	localpart, server, err := userID.Parse()
	if err != nil || server != mc.Config.Homeserver.Domain {
		return "", false
	}
	uuid, ok := strings.CutPrefix(localpart, mc.Config.AppService.UsernamePrefix)
	if !ok || !uuidRe.MatchString(uuid) {
		return "", false
	}
	return uuid, true
}

// IsBridgeUser reports whether userID is the bot or one of its ghosts. Events
// from these users are never relayed back to Minecraft.
func (mc *MinecraftConnector) IsBridgeUser(userID id.UserID) bool {
	if userID == mc.BotUserID() {
		return true
	}
	_, ok := mc.ParseGhostUserID(userID)
	return ok
}

// BotUserID is the bridge bot's Matrix user ID.
func (mc *MinecraftConnector) BotUserID() id.UserID {
	return id.NewUserID(mc.Config.AppService.BotUsername, mc.Config.Homeserver.Domain)
}
