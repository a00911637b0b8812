// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/appservice"

	"github.com/aiku/mautrix-minecraft/pkg/connector/bridgetoken"
	"github.com/aiku/mautrix-minecraft/pkg/connector/database"
	"github.com/aiku/mautrix-minecraft/pkg/connector/mojang"
)

// MinecraftConnector wires the Matrix appservice, the bridge store and the
// plugin gateway together.
type MinecraftConnector struct {
	Config  *Config
	Log     zerolog.Logger
	DB      *database.Database
	Bridges *BridgeManager
	Outbox  *Outbox
	Players PlayerResolver
	Rooms   RoomService
	AS      *appservice.AppService

	server   *http.Server
	listener net.Listener
}

// NewConnector builds the connector from a loaded config. It opens the
// database and the appservice but doesn't talk to the network; see Start.
func NewConnector(cfg *Config, log zerolog.Logger) (*MinecraftConnector, error) {
	reg, err := appservice.LoadRegistration(cfg.AppService.Registration)
	if err != nil {
		return nil, fmt.Errorf("failed to load registration: %w", err)
	}
	as, err := appservice.CreateFull(appservice.CreateOpts{
		Registration:     reg,
		HomeserverDomain: cfg.Homeserver.Domain,
		HomeserverURL:    cfg.Homeserver.Address,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create appservice: %w", err)
	}
	as.Log = log.With().Str("component", "appservice").Logger()

	db, err := database.Open(cfg.Database, log.With().Str("component", "database").Logger())
	if err != nil {
		return nil, err
	}
	codec, err := bridgetoken.New(cfg.Gateway.SigningSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create token codec: %w", err)
	}
	players := mojang.NewClient(mojang.Options{
		APIURL:            cfg.Players.APIURL,
		SessionURL:        cfg.Players.SessionURL,
		Timeout:           cfg.Players.LookupTimeout,
		CacheTTL:          cfg.Players.CacheTTL,
		RequestsPerSecond: cfg.Players.RequestsPerSecond,
	}, log.With().Str("component", "mojang").Logger())

	mc := newConnector(cfg, log, db, codec, players)
	mc.AS = as
	var avatars *avatarSyncer
	if cfg.Players.SyncAvatars {
		avatars = newAvatarSyncer(players, log.With().Str("component", "avatars").Logger())
	}
	mc.Rooms = newMatrixRoomService(as, mc.MakeGhostUserID, avatars, log.With().Str("component", "rooms").Logger())
	return mc, nil
}

func newConnector(cfg *Config, log zerolog.Logger, db *database.Database, codec *bridgetoken.Codec, players PlayerResolver) *MinecraftConnector {
	outbox := NewOutbox(cfg.Bridge.QueueLimit, cfg.Bridge.QueueMaxAge, log.With().Str("component", "outbox").Logger())
	return &MinecraftConnector{
		Config:  cfg,
		Log:     log,
		DB:      db,
		Outbox:  outbox,
		Players: players,
		Bridges: NewBridgeManager(codec, db.Bridge, outbox, log.With().Str("component", "bridges").Logger()),
	}
}

// Start upgrades the database, registers the bridge bot and binds the HTTP
// listener. Call Serve and Run afterwards.
func (mc *MinecraftConnector) Start(ctx context.Context) error {
	if err := mc.DB.Upgrade(ctx); err != nil {
		return err
	}
	bridges, err := mc.DB.Bridge.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load bridges: %w", err)
	}
	mc.Log.Info().Int("count", len(bridges)).Msg("Loaded bridged rooms")

	bot := mc.AS.BotIntent()
	if err = bot.EnsureRegistered(ctx); err != nil {
		return fmt.Errorf("failed to register bridge bot: %w", err)
	}
	if name := mc.Config.AppService.BotDisplayname; name != "" {
		if err = bot.SetDisplayName(ctx, name); err != nil {
			mc.Log.Warn().Err(err).Msg("Failed to set bridge bot display name")
		}
	}

	addr := mc.Config.AppService.ListenAddr()
	mc.listener, err = net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	mc.server = mc.newHTTPServer(mc.httpHandler(mc.AS.Router))
	return nil
}

func (mc *MinecraftConnector) newHTTPServer(handler http.Handler) *http.Server {
	return &http.Server{
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: mc.Config.Gateway.WriteTimeout(),
		IdleTimeout:  60 * time.Second,
	}
}

// httpHandler serves the plugin gateway and the appservice API from one
// listener.
func (mc *MinecraftConnector) httpHandler(appserviceAPI http.Handler) http.Handler {
	gateway := mc.GatewayHandler()
	mux := http.NewServeMux()
	mux.Handle("/vibecheck", gateway)
	mux.Handle("/chat", gateway)
	mux.Handle("/player/", gateway)
	mux.Handle("/", appserviceAPI)
	return mux
}

// Serve blocks serving HTTP until Stop is called.
func (mc *MinecraftConnector) Serve() error {
	mc.Log.Info().Str("addr", mc.listener.Addr().String()).Msg("Starting HTTP listener")
	err := mc.server.Serve(mc.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Run consumes appservice events until ctx is done.
func (mc *MinecraftConnector) Run(ctx context.Context) error {
	mc.Log.Info().Msg("Listening for Matrix events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt := <-mc.AS.Events:
			mc.HandleMatrixEvent(ctx, evt)
		}
	}
}

// Stop shuts down the HTTP listener and closes the database.
func (mc *MinecraftConnector) Stop(ctx context.Context) error {
	var errs []error
	if mc.server != nil {
		if err := mc.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
		}
	}
	if err := mc.DB.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}
	return errors.Join(errs...)
}
