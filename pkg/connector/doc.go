// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements a Matrix-Minecraft chat bridge as a Matrix
// application service.
//
// A room is bridged to at most one Minecraft server at a time. Room
// moderators run "!minecraft bridge <room>" and receive a bridge token,
// which the server plugin then presents as a bearer token on every request
// to the gateway HTTP API. Tokens are signed with the gateway signing secret
// and stored in the database; rotating the secret invalidates all of them.
//
// # Core Types
//
// [MinecraftConnector] owns the appservice, the database, the plugin gateway
// and the Matrix event loop.
//
// [BridgeManager] is the only component that creates, looks up or removes
// bridges. Creation races are settled by the database's unique constraint on
// the room ID.
//
// [Outbox] buffers room events per bridge until the plugin polls GET /chat.
// It is lossy: queues are capped in length and age.
//
// [RoomService] abstracts the Matrix client calls the bridge makes, so the
// command interpreter and the translators can be tested without a
// homeserver.
//
// # Event Flow
//
// Matrix to Minecraft: message and membership events from the appservice
// transaction stream are translated into [OutboundEvent] values and queued.
// Events sent by the bridge bot or any player ghost are never relayed back.
//
// Minecraft to Matrix: plugin requests are validated, the player is resolved
// against the Mojang API, and the resulting [InboundEvent] is applied by the
// player's ghost user.
//
// # Sub-packages
//
//   - bridgetoken issues and verifies bridge tokens.
//   - database stores the token to room mapping.
//   - mojang resolves player names and UUIDs.
//   - matrixfmt converts Matrix HTML to Minecraft formatting codes.
//   - minecraftfmt converts Minecraft formatting codes to Matrix HTML.
package connector
