// Copyright 2024-2026 Aiku AI

package connector

import (
	"encoding/json"
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-minecraft/pkg/connector/mojang"
)

// OutboundType tags the events polled by the Minecraft plugin.
type OutboundType string

const (
	OutboundText     OutboundType = "message.text"
	OutboundEmote    OutboundType = "message.emote"
	OutboundAnnounce OutboundType = "message.announce"
	OutboundKick     OutboundType = "player.kick"
	OutboundBan      OutboundType = "player.ban"
	OutboundUnban    OutboundType = "player.unban"
)

// Sender is the Matrix user an outbound event originates from.
type Sender struct {
	MXID        id.UserID `json:"mxid"`
	DisplayName string    `json:"displayName"`
}

// OutboundEvent is a room event waiting to be polled by the plugin. The set
// of implementations is closed: TextMessage, EmoteMessage, Announcement,
// KickPlayer, BanPlayer and UnbanPlayer.
type OutboundEvent interface {
	Type() OutboundType
	Origin() Sender
	isOutboundEvent()
}

type TextMessage struct {
	Sender Sender
	Body   string
}

type EmoteMessage struct {
	Sender Sender
	Body   string
}

type Announcement struct {
	Sender Sender
	Body   string
}

type KickPlayer struct {
	Sender Sender
	Player mojang.Player
	Reason string
}

type BanPlayer struct {
	Sender Sender
	Player mojang.Player
	Reason string
}

// UnbanPlayer never carries a reason.
type UnbanPlayer struct {
	Sender Sender
	Player mojang.Player
}

func (TextMessage) Type() OutboundType  { return OutboundText }
func (EmoteMessage) Type() OutboundType { return OutboundEmote }
func (Announcement) Type() OutboundType { return OutboundAnnounce }
func (KickPlayer) Type() OutboundType   { return OutboundKick }
func (BanPlayer) Type() OutboundType    { return OutboundBan }
func (UnbanPlayer) Type() OutboundType  { return OutboundUnban }

func (e TextMessage) Origin() Sender  { return e.Sender }
func (e EmoteMessage) Origin() Sender { return e.Sender }
func (e Announcement) Origin() Sender { return e.Sender }
func (e KickPlayer) Origin() Sender   { return e.Sender }
func (e BanPlayer) Origin() Sender    { return e.Sender }
func (e UnbanPlayer) Origin() Sender  { return e.Sender }

func (TextMessage) isOutboundEvent()  {}
func (EmoteMessage) isOutboundEvent() {}
func (Announcement) isOutboundEvent() {}
func (KickPlayer) isOutboundEvent()   {}
func (BanPlayer) isOutboundEvent()    {}
func (UnbanPlayer) isOutboundEvent()  {}

// wireEvent is the JSON shape of an outbound event in GET /chat responses.
type wireEvent struct {
	Type   OutboundType   `json:"type"`
	Sender Sender         `json:"sender"`
	Body   string         `json:"body,omitempty"`
	Player *mojang.Player `json:"player,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

func toWire(evt OutboundEvent) (wireEvent, error) {
	w := wireEvent{Type: evt.Type(), Sender: evt.Origin()}
	switch e := evt.(type) {
	case TextMessage:
		w.Body = e.Body
	case EmoteMessage:
		w.Body = e.Body
	case Announcement:
		w.Body = e.Body
	case KickPlayer:
		w.Player, w.Reason = &e.Player, e.Reason
	case BanPlayer:
		w.Player, w.Reason = &e.Player, e.Reason
	case UnbanPlayer:
		w.Player = &e.Player
	default:
		return wireEvent{}, fmt.Errorf("unknown outbound event %T", evt)
	}
	return w, nil
}

func marshalOutbound(evt OutboundEvent) ([]byte, error) {
	w, err := toWire(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (e TextMessage) MarshalJSON() ([]byte, error)  { return marshalOutbound(e) }
func (e EmoteMessage) MarshalJSON() ([]byte, error) { return marshalOutbound(e) }
func (e Announcement) MarshalJSON() ([]byte, error) { return marshalOutbound(e) }
func (e KickPlayer) MarshalJSON() ([]byte, error)   { return marshalOutbound(e) }
func (e BanPlayer) MarshalJSON() ([]byte, error)    { return marshalOutbound(e) }
func (e UnbanPlayer) MarshalJSON() ([]byte, error)  { return marshalOutbound(e) }

// InboundEvent is something the plugin reported about a player. The set of
// implementations is closed: ChatMessage, PlayerJoined, PlayerQuit and
// PlayerKicked.
type InboundEvent interface {
	Subject() mojang.Player
	isInboundEvent()
}

type ChatMessage struct {
	Player  mojang.Player
	Message string
}

type PlayerJoined struct {
	Player mojang.Player
}

type PlayerQuit struct {
	Player mojang.Player
}

type PlayerKicked struct {
	Player mojang.Player
	Reason string
}

func (e ChatMessage) Subject() mojang.Player  { return e.Player }
func (e PlayerJoined) Subject() mojang.Player { return e.Player }
func (e PlayerQuit) Subject() mojang.Player   { return e.Player }
func (e PlayerKicked) Subject() mojang.Player { return e.Player }

func (ChatMessage) isInboundEvent()  {}
func (PlayerJoined) isInboundEvent() {}
func (PlayerQuit) isInboundEvent()   {}
func (PlayerKicked) isInboundEvent() {}
