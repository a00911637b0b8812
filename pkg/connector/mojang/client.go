// Copyright 2024-2026 Aiku AI

package mojang

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	DefaultAPIURL     = "https://api.mojang.com"
	DefaultSessionURL = "https://sessionserver.mojang.com"
)

var (
	// ErrPlayerNotFound means Mojang has no profile for the name or UUID.
	ErrPlayerNotFound = errors.New("player not found")
	// ErrLookupTimeout means the lookup did not finish in time. It is
	// retryable, unlike ErrPlayerNotFound.
	ErrLookupTimeout = errors.New("player lookup timed out")
)

// Options configures a Client. Zero values fall back to the defaults below.
type Options struct {
	APIURL            string
	SessionURL        string
	Timeout           time.Duration
	CacheTTL          time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
}

type profile struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Properties []profileProperty `json:"properties"`
}

type profileProperty struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type cacheEntry struct {
	player  Player
	expires time.Time
	// skin is only meaningful when skinKnown is set, which happens for
	// entries that came from the session server.
	skin      string
	skinKnown bool
}

// Client resolves players, caching results and collapsing concurrent lookups
// for the same player into one request.
type Client struct {
	http       *resty.Client
	apiURL     string
	sessionURL string
	timeout    time.Duration
	ttl        time.Duration
	limiter    *rate.Limiter
	group      singleflight.Group
	log        zerolog.Logger
	now        func() time.Time

	cacheLock sync.RWMutex
	cache     map[string]cacheEntry
	nextSweep time.Time
}

func NewClient(opts Options, log zerolog.Logger) *Client {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}
	if opts.SessionURL == "" {
		opts.SessionURL = DefaultSessionURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 10
	}
	if opts.Burst <= 0 {
		opts.Burst = 20
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "mautrix-minecraft"
	}
	return &Client{
		http: resty.New().
			SetTimeout(opts.Timeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", opts.UserAgent),
		apiURL:     strings.TrimSuffix(opts.APIURL, "/"),
		sessionURL: strings.TrimSuffix(opts.SessionURL, "/"),
		timeout:    opts.Timeout,
		ttl:        opts.CacheTTL,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		log:        log,
		now:        time.Now,
		cache:      make(map[string]cacheEntry),
	}
}

// Lookup parses a plugin-supplied identifier and resolves it.
func (c *Client) Lookup(ctx context.Context, identifier string) (Player, error) {
	p := ParseIdentifier(identifier)
	if p.Name == "" && p.UUID == "" {
		return Player{}, fmt.Errorf("%w: empty identifier", ErrPlayerNotFound)
	}
	return c.Resolve(ctx, p)
}

// Resolve fills in whichever half of p is missing. Complete players are
// returned as is.
func (c *Client) Resolve(ctx context.Context, p Player) (Player, error) {
	if p.Complete() {
		return p, nil
	}
	if entry, ok := c.cached(p.Key()); ok {
		return entry.player, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(p.Key(), func() (any, error) {
		fetchCtx, fetchCancel := context.WithTimeout(detached, c.timeout)
		defer fetchCancel()
		entry, err := c.fetch(fetchCtx, p)
		return entry.player, err
	})
	select {
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Player{}, ctx.Err()
		}
		return Player{}, fmt.Errorf("%w: %w", ErrLookupTimeout, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Player{}, res.Err
		}
		return res.Val.(Player), nil
	}
}

// fetch queries Mojang for p and caches the result. Lookups by UUID go to
// the session server, which also reports the player's skin.
func (c *Client) fetch(ctx context.Context, p Player) (cacheEntry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return cacheEntry{}, fmt.Errorf("%w: %w", ErrLookupTimeout, err)
	}
	var prof profile
	req := c.http.R().SetContext(ctx).SetResult(&prof)
	var resp *resty.Response
	var err error
	bySession := p.UUID != ""
	if bySession {
		resp, err = req.SetPathParam("uuid", p.UUID).Get(c.sessionURL + "/session/minecraft/profile/{uuid}")
	} else {
		resp, err = req.SetPathParam("name", p.Name).Get(c.apiURL + "/users/profiles/minecraft/{name}")
	}
	if err != nil {
		if isTimeout(err) {
			return cacheEntry{}, fmt.Errorf("%w: %w", ErrLookupTimeout, err)
		}
		return cacheEntry{}, fmt.Errorf("failed to query Mojang API: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNoContent, http.StatusNotFound, http.StatusBadRequest:
		return cacheEntry{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, p.DisplayName())
	default:
		return cacheEntry{}, fmt.Errorf("unexpected Mojang API status %d", resp.StatusCode())
	}
	if prof.ID == "" || prof.Name == "" {
		return cacheEntry{}, fmt.Errorf("%w: %s", ErrPlayerNotFound, p.DisplayName())
	}

	entry := cacheEntry{player: Player{Name: prof.Name, UUID: NormalizeUUID(prof.ID)}}
	if bySession {
		entry.skin, entry.skinKnown = prof.skinURL(), true
	}
	entry = c.store(entry)
	c.log.Debug().
		Str("player_name", entry.player.Name).
		Str("player_uuid", entry.player.UUID).
		Msg("Resolved player")
	return entry, nil
}

// cached returns the live entry for key. Expired entries are removed.
func (c *Client) cached(key string) (cacheEntry, bool) {
	c.cacheLock.RLock()
	entry, ok := c.cache[key]
	c.cacheLock.RUnlock()
	if !ok {
		return cacheEntry{}, false
	}
	if c.now().After(entry.expires) {
		c.cacheLock.Lock()
		if current, ok := c.cache[key]; ok && current.expires.Equal(entry.expires) {
			delete(c.cache, key)
		}
		c.cacheLock.Unlock()
		return cacheEntry{}, false
	}
	return entry, true
}

// store caches entry under both the UUID and the name and returns what was
// stored. A known skin survives a refresh that didn't report one.
func (c *Client) store(entry cacheEntry) cacheEntry {
	now := c.now()
	entry.expires = now.Add(c.ttl)
	uuidKey := Player{UUID: entry.player.UUID}.Key()
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()
	if !entry.skinKnown {
		if prev, ok := c.cache[uuidKey]; ok && prev.skinKnown && now.Before(prev.expires) {
			entry.skin, entry.skinKnown = prev.skin, true
		}
	}
	c.cache[uuidKey] = entry
	c.cache[Player{Name: entry.player.Name}.Key()] = entry
	if now.After(c.nextSweep) {
		for key, e := range c.cache {
			if now.After(e.expires) {
				delete(c.cache, key)
			}
		}
		c.nextSweep = now.Add(c.ttl)
	}
	return entry
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
