// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		body string
		args []string
		rest string
		ok   bool
	}{
		{"!minecraft", nil, "", true},
		{"  !minecraft help  ", []string{"help"}, "", true},
		{"!minecraft bridge !room:example.com", []string{"bridge", "!room:example.com"}, "!room:example.com", true},
		{"!minecraft announce  server  restart", []string{"announce", "server", "restart"}, "server  restart", true},
		{"!minecraft\tbridge !room:example.com", []string{"bridge", "!room:example.com"}, "!room:example.com", true},
		{"!minecraft\nannounce hi there", []string{"announce", "hi", "there"}, "hi there", true},
		{"!minecraft\u00a0help", []string{"help"}, "", true},
		{"!minecraftbridge", nil, "", false},
		{"hello !minecraft", nil, "", false},
		{"", nil, "", false},
	}
	for _, tt := range tests {
		args, rest, ok := parseCommand("!minecraft", tt.body)
		if ok != tt.ok || rest != tt.rest || !equalStrings(args, tt.args) {
			t.Errorf("parseCommand(%q) = %v, %q, %v; want %v, %q, %v", tt.body, args, rest, ok, tt.args, tt.rest, tt.ok)
		}
	}
}

func TestCommandHelp(t *testing.T) {
	t.Parallel()
	mc, rooms, _ := newTestConnector(t)
	for _, body := range []string{"!minecraft", "!minecraft help", "!minecraft frobnicate"} {
		if !mc.HandleCommand(t.Context(), testRoom, testUser, body) {
			t.Fatalf("%q not handled as a command", body)
		}
		if got := rooms.lastNotice(); got != helpText {
			t.Errorf("%q: reply = %q", body, got)
		}
	}
	if mc.HandleCommand(t.Context(), testRoom, testUser, "just chatting") {
		t.Error("plain message handled as command")
	}
}

func TestCommandBridge(t *testing.T) {
	t.Parallel()
	mc, rooms, _ := newTestConnector(t)
	mc.HandleCommand(t.Context(), testRoom, testAdmin, "!minecraft bridge "+testRoom.String())

	reply := rooms.lastNotice()
	prefix := "Bridged! Go-to the Minecraft server and execute\"/bridge <token>\"\n"
	token, ok := strings.CutPrefix(reply, prefix)
	if !ok || token == "" {
		t.Fatalf("reply = %q", reply)
	}
	bridge, err := mc.Bridges.GetBridge(t.Context(), token)
	if err != nil || bridge.RoomID != testRoom {
		t.Errorf("issued token doesn't authenticate: %+v, %v", bridge, err)
	}
}

func TestCommandBridgeByAlias(t *testing.T) {
	t.Parallel()
	mc, rooms, _ := newTestConnector(t)
	rooms.Aliases["#survival:example.com"] = testRoom
	mc.HandleCommand(t.Context(), "!control:example.com", testAdmin, "!minecraft bridge #survival:example.com")

	notices := rooms.Notices()
	if len(notices) != 1 || notices[0].RoomID != "!control:example.com" {
		t.Fatalf("notices = %+v", notices)
	}
	if !strings.HasPrefix(notices[0].Text, "Bridged!") {
		t.Errorf("reply = %q", notices[0].Text)
	}
	if ok, _ := mc.Bridges.IsRoomBridged(t.Context(), testRoom); !ok {
		t.Error("aliased room not bridged")
	}
}

func TestCommandBridgeRefusals(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		setup  func(t *testing.T, mc *MinecraftConnector, rooms *fakeRoomService)
		sender id.UserID
		body   string
		want   string
	}{
		{
			name:   "missing room",
			sender: testAdmin,
			body:   "!minecraft bridge",
			want:   helpText,
		},
		{
			name:   "unknown alias",
			sender: testAdmin,
			body:   "!minecraft bridge #nonexistent:server",
			want:   helpText,
		},
		{
			name:   "not a room reference",
			sender: testAdmin,
			body:   "!minecraft bridge lobby",
			want:   helpText,
		},
		{
			name: "not whitelisted",
			setup: func(t *testing.T, mc *MinecraftConnector, _ *fakeRoomService) {
				mc.Config.Bridge.UserWhitelist = []string{"@someone:example.com"}
			},
			sender: testAdmin,
			body:   "!minecraft bridge " + testRoom.String(),
			want:   noticeNotWhitelisted,
		},
		{
			name:   "bot not joined",
			sender: testAdmin,
			body:   "!minecraft bridge !elsewhere:example.com",
			want:   "Bridge bot is not in that room. Please invite @_mc_bot:example.com to the room and try again.",
		},
		{
			name:   "low power level",
			sender: testUser,
			body:   "!minecraft bridge " + testRoom.String(),
			want:   "You need a higher power level (<50)",
		},
		{
			name: "custom state default",
			setup: func(_ *testing.T, _ *MinecraftConnector, rooms *fakeRoomService) {
				rooms.PowerLevel[testRoom] = powerLevels(100, testAdmin, 75)
			},
			sender: testAdmin,
			body:   "!minecraft bridge " + testRoom.String(),
			want:   "You need a higher power level (<100)",
		},
		{
			name: "already bridged",
			setup: func(t *testing.T, mc *MinecraftConnector, _ *fakeRoomService) {
				if _, err := mc.Bridges.Bridge(t.Context(), testRoom); err != nil {
					t.Fatal(err)
				}
			},
			sender: testAdmin,
			body:   "!minecraft bridge " + testRoom.String(),
			want:   noticeAlreadyBridged,
		},
		{
			name: "matrix error",
			setup: func(_ *testing.T, _ *MinecraftConnector, rooms *fakeRoomService) {
				rooms.Fail["PowerLevels"] = fmt.Errorf("failed to get power levels: %w",
					mautrix.RespError{ErrCode: "M_FORBIDDEN", Err: "You are not allowed to view this room"})
			},
			sender: testAdmin,
			body:   "!minecraft bridge " + testRoom.String(),
			want:   "Something went wrong: You are not allowed to view this room",
		},
		{
			name: "opaque error",
			setup: func(_ *testing.T, _ *MinecraftConnector, rooms *fakeRoomService) {
				rooms.Fail["IsBotJoined"] = errors.New("connection reset")
			},
			sender: testAdmin,
			body:   "!minecraft bridge " + testRoom.String(),
			want:   noticeGenericFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mc, rooms, _ := newTestConnector(t)
			if tt.setup != nil {
				tt.setup(t, mc, rooms)
			}
			mc.HandleCommand(t.Context(), testRoom, tt.sender, tt.body)
			if got := rooms.lastNotice(); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandUnbridge(t *testing.T) {
	t.Parallel()
	mc, rooms, _ := newTestConnector(t)
	ctx := t.Context()

	mc.HandleCommand(ctx, testRoom, testAdmin, "!minecraft unbridge")
	if got := rooms.lastNotice(); got != noticeNeverBridged {
		t.Errorf("unbridge of unbridged room: %q", got)
	}

	token := mustBridge(t, mc, testRoom)
	mc.HandleCommand(ctx, testRoom, testUser, "!minecraft unbridge")
	if got := rooms.lastNotice(); got != "You need a higher power level (<50)" {
		t.Errorf("unprivileged unbridge: %q", got)
	}
	if ok, _ := mc.Bridges.IsRoomBridged(ctx, testRoom); !ok {
		t.Fatal("unprivileged user unbridged the room")
	}

	mc.HandleCommand(ctx, testRoom, testAdmin, "!minecraft unbridge "+testRoom.String())
	if got := rooms.lastNotice(); got != noticeUnbridged {
		t.Errorf("unbridge reply: %q", got)
	}
	if _, err := mc.Bridges.GetBridge(ctx, token); !errors.Is(err, ErrNotBridged) {
		t.Errorf("token still valid after unbridge: %v", err)
	}
}

func TestCommandAnnounce(t *testing.T) {
	t.Parallel()
	mc, rooms, _ := newTestConnector(t)
	ctx := t.Context()
	rooms.DisplayNames[testAdmin] = "Admin"

	mc.HandleCommand(ctx, testRoom, testAdmin, "!minecraft announce Server restart in 5 minutes")
	if got := rooms.lastNotice(); got != noticeNotBridged {
		t.Errorf("announce in unbridged room: %q", got)
	}

	token := mustBridge(t, mc, testRoom)
	mc.HandleCommand(ctx, testRoom, testUser, "!minecraft announce hi")
	if mc.Outbox.Len(token) != 0 {
		t.Fatal("unprivileged announcement was queued")
	}

	mc.HandleCommand(ctx, testRoom, testAdmin, "!minecraft announce Server restart in 5 minutes")
	if got := rooms.lastNotice(); got != noticeAnnounced {
		t.Errorf("announce reply: %q", got)
	}
	events := mc.Outbox.Drain(token)
	if len(events) != 1 {
		t.Fatalf("queued %d events, want 1", len(events))
	}
	ann, ok := events[0].(Announcement)
	if !ok {
		t.Fatalf("queued %T, want Announcement", events[0])
	}
	want := Announcement{Sender: Sender{MXID: testAdmin, DisplayName: "Admin"}, Body: "Server restart in 5 minutes"}
	if ann != want {
		t.Errorf("announcement = %+v, want %+v", ann, want)
	}
}

func TestCommandCustomPrefix(t *testing.T) {
	t.Parallel()
	cfg := newTestConfig(t)
	cfg.Bridge.CommandPrefix = "!mc"
	mc, rooms, _ := newTestConnectorWithConfig(t, cfg)

	if mc.HandleCommand(t.Context(), testRoom, testAdmin, "!minecraft help") {
		t.Error("old prefix still handled")
	}
	if !mc.HandleCommand(t.Context(), testRoom, testAdmin, "!mc help") || rooms.lastNotice() != helpText {
		t.Error("custom prefix not handled")
	}
}
