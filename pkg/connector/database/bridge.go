// Copyright 2024-2026 Aiku AI

package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"
)

var (
	// ErrRoomBridged means the room already has a row; the unique constraint
	// on room_id rejected the insert.
	ErrRoomBridged = errors.New("room already has a bridge")
	// ErrTokenExists means the token is already stored. Tokens carry a random
	// nonce, so this only happens on a pathological collision.
	ErrTokenExists = errors.New("bridge token already exists")
)

// Bridge is one row of the bridge table.
type Bridge struct {
	qh *dbutil.QueryHelper[*Bridge]

	Token     string
	RoomID    id.RoomID
	CreatedAt time.Time
}

// BridgeQuery runs queries against the bridge table.
type BridgeQuery struct {
	*dbutil.QueryHelper[*Bridge]
}

func newBridge(qh *dbutil.QueryHelper[*Bridge]) *Bridge {
	return &Bridge{qh: qh}
}

const (
	getBridgeBaseQuery = `SELECT token, room_id, created_at FROM bridge`
	getBridgeByToken   = getBridgeBaseQuery + ` WHERE token=$1`
	getBridgeByRoom    = getBridgeBaseQuery + ` WHERE room_id=$1`
	getAllBridges      = getBridgeBaseQuery + ` ORDER BY created_at, token`
	insertBridgeQuery  = `
		INSERT INTO bridge (token, room_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	deleteBridgeByRoom = `DELETE FROM bridge WHERE room_id=$1`
)

// GetByToken returns the bridge identified by token, or nil if there is none.
func (bq *BridgeQuery) GetByToken(ctx context.Context, token string) (*Bridge, error) {
	return bq.QueryOne(ctx, getBridgeByToken, token)
}

// GetByRoom returns the bridge of a room, or nil if the room isn't bridged.
func (bq *BridgeQuery) GetByRoom(ctx context.Context, roomID id.RoomID) (*Bridge, error) {
	return bq.QueryOne(ctx, getBridgeByRoom, string(roomID))
}

func (bq *BridgeQuery) GetAll(ctx context.Context) ([]*Bridge, error) {
	return bq.QueryMany(ctx, getAllBridges)
}

func (bq *BridgeQuery) HasRoom(ctx context.Context, roomID id.RoomID) (bool, error) {
	b, err := bq.GetByRoom(ctx, roomID)
	return b != nil, err
}

func (bq *BridgeQuery) HasToken(ctx context.Context, token string) (bool, error) {
	b, err := bq.GetByToken(ctx, token)
	return b != nil, err
}

// Put inserts a new bridge row in a single statement. The database decides
// conflicts: a second bridge for the same room gets ErrRoomBridged, a
// duplicate token gets ErrTokenExists.
func (bq *BridgeQuery) Put(ctx context.Context, token string, roomID id.RoomID) (*Bridge, error) {
	b := bq.New()
	b.Token = token
	b.RoomID = roomID
	b.CreatedAt = time.Now().Truncate(time.Second)
	res, err := bq.GetDB().Exec(ctx, insertBridgeQuery, b.Token, string(b.RoomID), b.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to insert bridge: %w", err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return nil, err
	}
	if n > 0 {
		return b, nil
	}
	if exists, err := bq.HasToken(ctx, token); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrTokenExists
	}
	return nil, ErrRoomBridged
}

// RemoveByRoom deletes the bridge of a room and reports whether one existed.
func (bq *BridgeQuery) RemoveByRoom(ctx context.Context, roomID id.RoomID) (bool, error) {
	res, err := bq.GetDB().Exec(ctx, deleteBridgeByRoom, string(roomID))
	if err != nil {
		return false, fmt.Errorf("failed to delete bridge: %w", err)
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

func (b *Bridge) Scan(row dbutil.Scannable) (*Bridge, error) {
	var roomID string
	var createdAt int64
	err := row.Scan(&b.Token, &roomID, &createdAt)
	if err != nil {
		return nil, err
	}
	b.RoomID = id.RoomID(roomID)
	b.CreatedAt = time.Unix(createdAt, 0)
	return b, nil
}
