// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

const avatarSyncTimeout = time.Minute

// AvatarFetcher provides the images used as ghost avatars.
type AvatarFetcher interface {
	// SkinURL returns "" for players with a default skin.
	SkinURL(ctx context.Context, uuid string) (string, error)
	PlayerHead(ctx context.Context, skinURL string) ([]byte, error)
}

// avatarSetter is the part of a ghost intent that changes its avatar.
type avatarSetter interface {
	UploadBytes(ctx context.Context, data []byte, contentType string) (*mautrix.RespMediaUpload, error)
	SetAvatarURL(ctx context.Context, avatarURL id.ContentURI) error
}

// avatarSyncer keeps ghost avatars in sync with the players' skins.
type avatarSyncer struct {
	fetcher AvatarFetcher
	log     zerolog.Logger

	mu      sync.Mutex
	skins   map[id.UserID]string
	pending map[id.UserID]struct{}
}

func newAvatarSyncer(fetcher AvatarFetcher, log zerolog.Logger) *avatarSyncer {
	return &avatarSyncer{
		fetcher: fetcher,
		log:     log,
		skins:   make(map[id.UserID]string),
		pending: make(map[id.UserID]struct{}),
	}
}

// Sync sets the ghost's avatar to the head of the player's current skin.
// Nothing is uploaded when the skin hasn't changed since the last sync, and
// concurrent syncs of the same ghost collapse into one.
func (as *avatarSyncer) Sync(ctx context.Context, ghost id.UserID, intent avatarSetter, uuid string) error {
	as.mu.Lock()
	if _, busy := as.pending[ghost]; busy {
		as.mu.Unlock()
		return nil
	}
	as.pending[ghost] = struct{}{}
	current, known := as.skins[ghost]
	as.mu.Unlock()
	defer func() {
		as.mu.Lock()
		delete(as.pending, ghost)
		as.mu.Unlock()
	}()

	skin, err := as.fetcher.SkinURL(ctx, uuid)
	if err != nil {
		return fmt.Errorf("failed to get skin: %w", err)
	}
	if known && skin == current {
		return nil
	}
	if skin != "" {
		head, err := as.fetcher.PlayerHead(ctx, skin)
		if err != nil {
			return fmt.Errorf("failed to get player head: %w", err)
		}
		resp, err := intent.UploadBytes(ctx, head, "image/png")
		if err != nil {
			return fmt.Errorf("failed to upload avatar: %w", err)
		}
		if err = intent.SetAvatarURL(ctx, resp.ContentURI); err != nil {
			return fmt.Errorf("failed to set avatar: %w", err)
		}
		as.log.Debug().
			Stringer("ghost", ghost).
			Stringer("avatar_url", resp.ContentURI).
			Msg("Updated ghost avatar")
	}
	as.mu.Lock()
	as.skins[ghost] = skin
	as.mu.Unlock()
	return nil
}

// SyncInBackground runs Sync without holding up the caller, logging failures.
func (as *avatarSyncer) SyncInBackground(ctx context.Context, ghost id.UserID, intent avatarSetter, uuid string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), avatarSyncTimeout)
	go func() {
		defer cancel()
		if err := as.Sync(ctx, ghost, intent, uuid); err != nil {
			as.log.Warn().Err(err).Stringer("ghost", ghost).Msg("Failed to sync ghost avatar")
		}
	}()
}
