// Copyright 2024-2026 Aiku AI

package mojang

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/url"

	"golang.org/x/image/draw"
)

// AvatarSize is the width and height of the head image made from a skin.
const AvatarSize = 200

// ErrInvalidSkin means the skin couldn't be turned into a head image.
var ErrInvalidSkin = errors.New("invalid skin image")

// The face of the head's front in the standard skin layout.
var faceRect = image.Rect(8, 8, 16, 16)

type texturesPayload struct {
	Textures struct {
		Skin *struct {
			URL string `json:"url"`
		} `json:"SKIN"`
	} `json:"textures"`
}

// skinURL extracts the skin URL from the base64 textures property. Players
// with the default skin have none.
func (p *profile) skinURL() string {
	for _, prop := range p.Properties {
		if prop.Name != "textures" {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(prop.Value)
		if err != nil {
			return ""
		}
		var payload texturesPayload
		if json.Unmarshal(raw, &payload) != nil || payload.Textures.Skin == nil {
			return ""
		}
		return payload.Textures.Skin.URL
	}
	return ""
}

// SkinURL returns the URL of the player's custom skin, or "" when the player
// uses a default skin.
func (c *Client) SkinURL(ctx context.Context, uuid string) (string, error) {
	uuid = NormalizeUUID(uuid)
	if uuid == "" {
		return "", fmt.Errorf("%w: empty uuid", ErrPlayerNotFound)
	}
	if entry, ok := c.cached(Player{UUID: uuid}.Key()); ok && entry.skinKnown {
		return entry.skin, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	entry, err := c.fetch(ctx, Player{UUID: uuid})
	if err != nil {
		return "", err
	}
	return entry.skin, nil
}

// PlayerHead downloads the skin at skinURL and returns its face scaled up to
// AvatarSize as a PNG.
func (c *Client) PlayerHead(ctx context.Context, skinURL string) ([]byte, error) {
	target, err := url.Parse(skinURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse skin URL: %w", err)
	}
	// Mojang hands out plain http texture links.
	if target.Scheme == "http" && target.Host == "textures.minecraft.net" {
		target.Scheme = "https"
	}
	if err = c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "image/png").
		Get(target.String())
	if err != nil {
		return nil, fmt.Errorf("failed to download skin: %w", err)
	} else if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected skin download status %d", resp.StatusCode())
	}
	skin, err := png.Decode(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSkin, err)
	}
	return cropHead(skin)
}

func cropHead(skin image.Image) ([]byte, error) {
	bounds := skin.Bounds()
	face := faceRect.Add(bounds.Min)
	if !face.In(bounds) {
		return nil, fmt.Errorf("%w: %dx%d is too small", ErrInvalidSkin, bounds.Dx(), bounds.Dy())
	}
	head := image.NewNRGBA(image.Rect(0, 0, AvatarSize, AvatarSize))
	draw.NearestNeighbor.Scale(head, head.Bounds(), skin, face, draw.Src, nil)
	var buf bytes.Buffer
	if err := png.Encode(&buf, head); err != nil {
		return nil, fmt.Errorf("failed to encode head: %w", err)
	}
	return buf.Bytes(), nil
}
