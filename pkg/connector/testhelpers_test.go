// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-minecraft/pkg/connector/bridgetoken"
	"github.com/aiku/mautrix-minecraft/pkg/connector/database"
	"github.com/aiku/mautrix-minecraft/pkg/connector/mojang"
)

const (
	testDomain = "example.com"
	testSecret = "test-signing-secret"
	testRoom   = id.RoomID("!room:example.com")
	testAdmin  = id.UserID("@admin:example.com")
	testUser   = id.UserID("@user:example.com")
	steveUUID  = "8667ba71b85a4004af54457a9734eed7"
)

var steve = mojang.Player{Name: "Steve", UUID: steveUUID}

type noticeCall struct {
	RoomID id.RoomID
	Text   string
}

type playerMessageCall struct {
	RoomID  id.RoomID
	Player  mojang.Player
	Content *event.MessageEventContent
}

type membershipCall struct {
	RoomID     id.RoomID
	Player     mojang.Player
	Membership event.Membership
	Reason     string
}

// fakeRoomService records every call made to the Matrix side and answers
// queries from its maps.
type fakeRoomService struct {
	mu sync.Mutex

	Bot          id.UserID
	Aliases      map[id.RoomAlias]id.RoomID
	Joined       map[id.RoomID]bool
	PowerLevel   map[id.RoomID]*event.PowerLevelsEventContent
	DisplayNames map[id.UserID]string
	// Fail makes the named method return the error.
	Fail map[string]error

	notices     []noticeCall
	messages    []playerMessageCall
	memberships []membershipCall
	invites     []id.RoomID
}

var _ RoomService = (*fakeRoomService)(nil)

func newFakeRoomService() *fakeRoomService {
	return &fakeRoomService{
		Bot:          id.NewUserID("_mc_bot", testDomain),
		Aliases:      make(map[id.RoomAlias]id.RoomID),
		Joined:       map[id.RoomID]bool{testRoom: true},
		PowerLevel:   map[id.RoomID]*event.PowerLevelsEventContent{testRoom: powerLevels(50, testAdmin, 100)},
		DisplayNames: make(map[id.UserID]string),
		Fail:         make(map[string]error),
	}
}

func powerLevels(stateDefault int, user id.UserID, level int) *event.PowerLevelsEventContent {
	return &event.PowerLevelsEventContent{
		Users:           map[id.UserID]int{user: level},
		StateDefaultPtr: &stateDefault,
	}
}

func (f *fakeRoomService) fail(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Fail[method]
}

func (f *fakeRoomService) BotUserID() id.UserID {
	return f.Bot
}

func (f *fakeRoomService) ResolveRoom(_ context.Context, ref string) (id.RoomID, error) {
	if err := f.fail("ResolveRoom"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.HasPrefix(ref, "!"):
		return id.RoomID(ref), nil
	case strings.HasPrefix(ref, "#"):
		if roomID, ok := f.Aliases[id.RoomAlias(ref)]; ok {
			return roomID, nil
		}
		return "", fmt.Errorf("%w: alias %s not found", ErrUnresolvableRoom, ref)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnresolvableRoom, ref)
	}
}

func (f *fakeRoomService) IsBotJoined(_ context.Context, roomID id.RoomID) (bool, error) {
	if err := f.fail("IsBotJoined"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Joined[roomID], nil
}

func (f *fakeRoomService) PowerLevels(_ context.Context, roomID id.RoomID) (*event.PowerLevelsEventContent, error) {
	if err := f.fail("PowerLevels"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if pl, ok := f.PowerLevel[roomID]; ok {
		return pl, nil
	}
	return &event.PowerLevelsEventContent{}, nil
}

func (f *fakeRoomService) MemberDisplayName(_ context.Context, _ id.RoomID, userID id.UserID) (string, error) {
	if err := f.fail("MemberDisplayName"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.DisplayNames[userID], nil
}

func (f *fakeRoomService) SendNotice(_ context.Context, roomID id.RoomID, text string) error {
	if err := f.fail("SendNotice"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, noticeCall{RoomID: roomID, Text: text})
	return nil
}

func (f *fakeRoomService) AcceptInvite(_ context.Context, roomID id.RoomID) error {
	if err := f.fail("AcceptInvite"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, roomID)
	f.Joined[roomID] = true
	return nil
}

func (f *fakeRoomService) SendPlayerMessage(_ context.Context, roomID id.RoomID, player mojang.Player, content *event.MessageEventContent) error {
	if err := f.fail("SendPlayerMessage"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, playerMessageCall{RoomID: roomID, Player: player, Content: content})
	return nil
}

func (f *fakeRoomService) SetPlayerMembership(_ context.Context, roomID id.RoomID, player mojang.Player, membership event.Membership, reason string) error {
	if err := f.fail("SetPlayerMembership"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberships = append(f.memberships, membershipCall{RoomID: roomID, Player: player, Membership: membership, Reason: reason})
	return nil
}

func (f *fakeRoomService) Notices() []noticeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]noticeCall, len(f.notices))
	copy(cp, f.notices)
	return cp
}

func (f *fakeRoomService) Messages() []playerMessageCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]playerMessageCall, len(f.messages))
	copy(cp, f.messages)
	return cp
}

func (f *fakeRoomService) Memberships() []membershipCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]membershipCall, len(f.memberships))
	copy(cp, f.memberships)
	return cp
}

func (f *fakeRoomService) Invites() []id.RoomID {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]id.RoomID, len(f.invites))
	copy(cp, f.invites)
	return cp
}

// lastNotice returns the text of the most recent notice, or "" if none.
func (f *fakeRoomService) lastNotice() string {
	notices := f.Notices()
	if len(notices) == 0 {
		return ""
	}
	return notices[len(notices)-1].Text
}

// fakeResolver resolves players from a fixed list without network access.
type fakeResolver struct {
	mu      sync.Mutex
	players map[string]mojang.Player
	errs    map[string]error
	calls   int
	// delay is spent before answering, cut short by the context.
	delay time.Duration
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		players: map[string]mojang.Player{
			"steve":   steve,
			steveUUID: steve,
		},
		errs: make(map[string]error),
	}
}

func (f *fakeResolver) Lookup(ctx context.Context, identifier string) (mojang.Player, error) {
	f.mu.Lock()
	delay := f.delay
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return mojang.Player{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	key := strings.ToLower(strings.TrimSpace(identifier))
	if err, ok := f.errs[key]; ok {
		return mojang.Player{}, err
	}
	if p, ok := f.players[mojang.NormalizeUUID(key)]; ok {
		return p, nil
	}
	return mojang.Player{}, mojang.ErrPlayerNotFound
}

func newTestConfig(t testing.TB) *Config {
	t.Helper()
	cfg := &Config{
		Homeserver: HomeserverConfig{Address: "https://matrix.example.com", Domain: testDomain},
		AppService: AppServiceConfig{
			Address:     "http://localhost:3051",
			Hostname:    "127.0.0.1",
			Port:        3051,
			BotUsername: "_mc_bot",
		},
		Gateway: GatewayConfig{SigningSecret: testSecret},
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	return cfg
}

// newTestConnector builds a connector backed by a temporary SQLite database
// and fakes for the Matrix and Mojang sides.
func newTestConnector(t testing.TB) (*MinecraftConnector, *fakeRoomService, *fakeResolver) {
	t.Helper()
	return newTestConnectorWithConfig(t, newTestConfig(t))
}

func newTestConnectorWithConfig(t testing.TB, cfg *Config) (*MinecraftConnector, *fakeRoomService, *fakeResolver) {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "bridge.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err = db.Upgrade(context.Background()); err != nil {
		t.Fatalf("Upgrade: %v", err)
	}
	codec, err := bridgetoken.New(cfg.Gateway.SigningSecret)
	if err != nil {
		t.Fatalf("bridgetoken.New: %v", err)
	}
	rooms := newFakeRoomService()
	players := newFakeResolver()
	mc := newConnector(cfg, zerolog.Nop(), db, codec, players)
	mc.Rooms = rooms
	return mc, rooms, players
}

// mustBridge bridges roomID and returns the token.
func mustBridge(t testing.TB, mc *MinecraftConnector, roomID id.RoomID) string {
	t.Helper()
	bridge, err := mc.Bridges.Bridge(context.Background(), roomID)
	if err != nil {
		t.Fatalf("Bridge(%s): %v", roomID, err)
	}
	return bridge.Token
}
