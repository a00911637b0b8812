// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"go.mau.fi/util/exhttp"

	"github.com/aiku/mautrix-minecraft/pkg/connector/database"
	"github.com/aiku/mautrix-minecraft/pkg/connector/mojang"
)

// RequestIDHeader carries the correlation id of a gateway request. Clients
// may supply one; otherwise it's generated.
const RequestIDHeader = "X-Request-Id"

// gatewayError is an error response of the plugin API.
type gatewayError struct {
	Status  int    `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
	// RetryAfter is sent as the Retry-After header in seconds when set.
	RetryAfter int `json:"-"`
}

var (
	errNoToken        = newGatewayError(http.StatusUnauthorized, "NO_TOKEN", "A bearer token is required")
	errInvalidToken   = newGatewayError(http.StatusUnauthorized, "INVALID_TOKEN", "The provided token is not valid")
	errServer         = newGatewayError(http.StatusInternalServerError, "SERVER_ERROR", "An internal server error occurred")
	errNoBody         = newGatewayError(http.StatusBadRequest, "NO_BODY", "A JSON object body is required")
	errBodyTooLarge   = newGatewayError(http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "The request body is too large")
	errNoMessage      = newGatewayError(http.StatusBadRequest, "NO_MESSAGE", "The message field is missing")
	errMessageType    = newGatewayError(http.StatusBadRequest, "MESSAGE_TYPE", "The message field must be a string")
	errNoPlayer       = newGatewayError(http.StatusBadRequest, "NO_PLAYER", "The player field is missing")
	errPlayerType     = newGatewayError(http.StatusBadRequest, "PLAYER_TYPE", "The player field must be a string")
	errNoReason       = newGatewayError(http.StatusBadRequest, "NO_REASON", "The reason field is missing")
	errReasonType     = newGatewayError(http.StatusBadRequest, "REASON_TYPE", "The reason field must be a string")
	errPlayerNotFound = newGatewayError(http.StatusBadRequest, "PLAYER_NOT_FOUND", "No Minecraft player matches the given name or UUID")
	errLookupTimeout  = newGatewayError(http.StatusServiceUnavailable, "PLAYER_LOOKUP_TIMEOUT", "The player lookup timed out, try again later")
)

func newGatewayError(status int, code, message string) *gatewayError {
	return &gatewayError{Status: status, Code: code, Message: message}
}

func (ge *gatewayError) Write(w http.ResponseWriter) {
	if ge.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ge.RetryAfter))
	}
	exhttp.WriteJSONResponse(w, ge.Status, ge)
}

type bridgeContextKey struct{}

// BridgeFromContext returns the bridge the request authenticated as.
func BridgeFromContext(ctx context.Context) *database.Bridge {
	bridge, _ := ctx.Value(bridgeContextKey{}).(*database.Bridge)
	return bridge
}

// PlayerResolver resolves a player name or UUID to a complete player.
type PlayerResolver interface {
	Lookup(ctx context.Context, identifier string) (mojang.Player, error)
}

// GatewayHandler returns the HTTP API polled by the Minecraft plugin.
func (mc *MinecraftConnector) GatewayHandler() http.Handler {
	mux := http.NewServeMux()
	mc.registerGatewayRoutes(mux)
	return mc.gatewayMiddleware(mux)
}

func (mc *MinecraftConnector) registerGatewayRoutes(mux *http.ServeMux) {
	mux.Handle("GET /vibecheck", mc.requireBridge(mc.getVibecheck))
	mux.Handle("GET /chat", mc.requireBridge(mc.getChat))
	mux.Handle("POST /chat", mc.requireBridge(mc.postChat))
	mux.Handle("POST /player/join", mc.requireBridge(mc.postPlayerJoin))
	mux.Handle("POST /player/quit", mc.requireBridge(mc.postPlayerQuit))
	mux.Handle("POST /player/kick", mc.requireBridge(mc.postPlayerKick))
}

func (mc *MinecraftConnector) gatewayMiddleware(next http.Handler) http.Handler {
	log := mc.Log.With().Str("component", "gateway").Logger()
	access := hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status_code", status).
			Int("response_length", size).
			Int64("request_time_ms", duration.Milliseconds()).
			Msg("Handled gateway request")
	})
	return hlog.NewHandler(log)(requestID(access(mc.requestDeadline(next))))
}

// requestDeadline bounds the request context so a slow lookup or homeserver
// still leaves time to write a response before the server's write deadline.
func (mc *MinecraftConnector) requestDeadline(next http.Handler) http.Handler {
	timeout := mc.Config.Gateway.RequestTimeout
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestID attaches the correlation id to the request logger and echoes it
// back in the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if reqID == "" || len(reqID) > 64 {
			reqID = xid.New().String()
		}
		w.Header().Set(RequestIDHeader, reqID)
		log := hlog.FromRequest(r).With().Str("request_id", reqID).Logger()
		next.ServeHTTP(w, r.WithContext(log.WithContext(r.Context())))
	})
}

// requireBridge authenticates the bearer token and stores the bridge in the
// request context.
func (mc *MinecraftConnector) requireBridge(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Fields(r.Header.Get("Authorization"))
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			errNoToken.Write(w)
			return
		}
		ctx := r.Context()
		bridge, err := mc.Bridges.GetBridge(ctx, parts[1])
		if errors.Is(err, ErrNotBridged) {
			errInvalidToken.Write(w)
			return
		} else if err != nil {
			zerolog.Ctx(ctx).Err(err).Msg("Failed to authenticate gateway request")
			errServer.Write(w)
			return
		}
		log := zerolog.Ctx(ctx).With().Stringer("room_id", bridge.RoomID).Logger()
		ctx = log.WithContext(context.WithValue(ctx, bridgeContextKey{}, bridge))
		next(w, r.WithContext(ctx))
	})
}

func (mc *MinecraftConnector) getVibecheck(w http.ResponseWriter, r *http.Request) {
	bridge := BridgeFromContext(r.Context())
	exhttp.WriteJSONResponse(w, http.StatusOK, map[string]string{
		"status": "OK",
		"bridge": bridge.RoomID.String(),
	})
}

type chatResponse struct {
	Events []OutboundEvent `json:"events"`
}

func (mc *MinecraftConnector) getChat(w http.ResponseWriter, r *http.Request) {
	bridge := BridgeFromContext(r.Context())
	events := mc.Outbox.Drain(bridge.Token)
	if len(events) > 0 {
		zerolog.Ctx(r.Context()).Debug().Int("count", len(events)).Msg("Delivering outbound events")
	}
	exhttp.WriteJSONResponse(w, http.StatusOK, &chatResponse{Events: events})
}

func (mc *MinecraftConnector) postChat(w http.ResponseWriter, r *http.Request) {
	fields, gerr := mc.readJSONBody(w, r)
	if gerr != nil {
		gerr.Write(w)
		return
	}
	message, gerr := stringField(fields, "message", errNoMessage, errMessageType)
	if gerr != nil {
		gerr.Write(w)
		return
	}
	player, gerr := mc.resolvePlayer(r.Context(), fields)
	if gerr != nil {
		gerr.Write(w)
		return
	}
	mc.relay(w, r, ChatMessage{Player: player, Message: message})
}

func (mc *MinecraftConnector) postPlayerJoin(w http.ResponseWriter, r *http.Request) {
	mc.postPlayerEvent(w, r, func(player mojang.Player) InboundEvent {
		return PlayerJoined{Player: player}
	})
}

func (mc *MinecraftConnector) postPlayerQuit(w http.ResponseWriter, r *http.Request) {
	mc.postPlayerEvent(w, r, func(player mojang.Player) InboundEvent {
		return PlayerQuit{Player: player}
	})
}

func (mc *MinecraftConnector) postPlayerKick(w http.ResponseWriter, r *http.Request) {
	fields, gerr := mc.readJSONBody(w, r)
	if gerr != nil {
		gerr.Write(w)
		return
	}
	reason, gerr := stringField(fields, "reason", errNoReason, errReasonType)
	if gerr != nil {
		gerr.Write(w)
		return
	}
	player, gerr := mc.resolvePlayer(r.Context(), fields)
	if gerr != nil {
		gerr.Write(w)
		return
	}
	mc.relay(w, r, PlayerKicked{Player: player, Reason: reason})
}

func (mc *MinecraftConnector) postPlayerEvent(w http.ResponseWriter, r *http.Request, build func(mojang.Player) InboundEvent) {
	fields, gerr := mc.readJSONBody(w, r)
	if gerr != nil {
		gerr.Write(w)
		return
	}
	player, gerr := mc.resolvePlayer(r.Context(), fields)
	if gerr != nil {
		gerr.Write(w)
		return
	}
	mc.relay(w, r, build(player))
}

func (mc *MinecraftConnector) relay(w http.ResponseWriter, r *http.Request, evt InboundEvent) {
	ctx := r.Context()
	if err := mc.HandleMinecraftEvent(ctx, BridgeFromContext(ctx), evt); err != nil {
		zerolog.Ctx(ctx).Err(err).Msg("Failed to relay Minecraft event")
		errServer.Write(w)
		return
	}
	exhttp.WriteEmptyJSONResponse(w, http.StatusOK)
}

// readJSONBody decodes the request body as a JSON object, keeping field
// values raw so that missing and mistyped fields can be told apart.
func (mc *MinecraftConnector) readJSONBody(w http.ResponseWriter, r *http.Request) (map[string]json.RawMessage, *gatewayError) {
	if r.Body == nil {
		return nil, errNoBody
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, mc.Config.Gateway.MaxBodySize))
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return nil, errBodyTooLarge
	} else if err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("Failed to read request body")
		return nil, errNoBody
	}
	var fields map[string]json.RawMessage
	if len(data) == 0 || json.Unmarshal(data, &fields) != nil || fields == nil {
		return nil, errNoBody
	}
	return fields, nil
}

func stringField(fields map[string]json.RawMessage, key string, missing, wrongType *gatewayError) (string, *gatewayError) {
	raw, ok := fields[key]
	if !ok || string(raw) == "null" {
		return "", missing
	}
	var val string
	if err := json.Unmarshal(raw, &val); err != nil {
		return "", wrongType
	}
	return val, nil
}

func (mc *MinecraftConnector) resolvePlayer(ctx context.Context, fields map[string]json.RawMessage) (mojang.Player, *gatewayError) {
	identifier, gerr := stringField(fields, "player", errNoPlayer, errPlayerType)
	if gerr != nil {
		return mojang.Player{}, gerr
	} else if strings.TrimSpace(identifier) == "" {
		return mojang.Player{}, errNoPlayer
	}
	player, err := mc.Players.Lookup(ctx, identifier)
	switch {
	case err == nil:
		return player, nil
	case errors.Is(err, mojang.ErrPlayerNotFound):
		zerolog.Ctx(ctx).Debug().Str("player", identifier).Msg("Player not found")
		return mojang.Player{}, errPlayerNotFound
	case errors.Is(err, mojang.ErrLookupTimeout):
		zerolog.Ctx(ctx).Warn().Str("player", identifier).Msg("Player lookup timed out")
		return mojang.Player{}, mc.lookupTimeoutError()
	case errors.Is(err, context.Canceled):
		zerolog.Ctx(ctx).Debug().Str("player", identifier).Msg("Player lookup cancelled by client")
		return mojang.Player{}, errServer
	default:
		zerolog.Ctx(ctx).Err(err).Str("player", identifier).Msg("Player lookup failed")
		return mojang.Player{}, errServer
	}
}

func (mc *MinecraftConnector) lookupTimeoutError() *gatewayError {
	gerr := *errLookupTimeout
	gerr.RetryAfter = max(1, int(math.Ceil(mc.Config.Players.LookupTimeout.Seconds())))
	return &gerr
}
