// Copyright 2024-2026 Aiku AI

// Package mojang resolves Minecraft player names and UUIDs against the
// Mojang profile API.
package mojang

import (
	"strings"
)

// maxNameLength is the longest valid Minecraft username. Anything longer is
// treated as a UUID.
const maxNameLength = 16

// Player identifies a Minecraft player. Either half may be empty until the
// player is resolved.
type Player struct {
	Name string `json:"name"`
	UUID string `json:"uuid"`
}

// ParseIdentifier builds a Player from a plugin-supplied identifier, which is
// either a username or a UUID with or without dashes.
func ParseIdentifier(identifier string) Player {
	identifier = strings.TrimSpace(identifier)
	if len(identifier) > maxNameLength {
		return Player{UUID: NormalizeUUID(identifier)}
	}
	return Player{Name: identifier}
}

// NormalizeUUID strips dashes and lowercases a UUID.
func NormalizeUUID(uuid string) string {
	return strings.ToLower(strings.ReplaceAll(uuid, "-", ""))
}

// Complete reports whether both the name and the UUID are known.
func (p Player) Complete() bool {
	return p.Name != "" && p.UUID != ""
}

// Key is the identity used for equality and caching: the UUID when known,
// otherwise the lowercased name.
func (p Player) Key() string {
	if p.UUID != "" {
		return "uuid:" + p.UUID
	}
	return "name:" + strings.ToLower(p.Name)
}

// DisplayName returns the name, falling back to the UUID.
func (p Player) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.UUID
}

func (p Player) String() string {
	switch {
	case p.Complete():
		return p.Name + " (" + p.UUID + ")"
	default:
		return p.DisplayName()
	}
}
