// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"

	"maunium.net/go/mautrix"
)

var (
	// ErrAlreadyBridged is returned by BridgeManager.Bridge when the room
	// already has a live bridge.
	ErrAlreadyBridged = errors.New("room is already bridged")
	// ErrNotBridged covers both unknown tokens and tokens that fail
	// verification, so callers can't tell which check failed.
	ErrNotBridged = errors.New("not bridged")
	// ErrUnresolvableRoom means a room alias or ID couldn't be turned into a
	// room the bot can address.
	ErrUnresolvableRoom = errors.New("invalid room ID or alias")
)

// userFacingError extracts the most useful message from err for showing in a
// room. Matrix API errors yield their server message; anything else yields
// an empty string so the caller can fall back to a generic notice.
func userFacingError(err error) string {
	var httpErr mautrix.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.RespError != nil && httpErr.RespError.Err != "" {
			return httpErr.RespError.Err
		}
		return httpErr.Message
	}
	var respErr mautrix.RespError
	if errors.As(err, &respErr) {
		return respErr.Err
	}
	return ""
}
