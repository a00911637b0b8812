// Copyright 2024-2026 Aiku AI

package connector

import (
	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-minecraft/pkg/connector/matrixfmt"
	"github.com/aiku/mautrix-minecraft/pkg/connector/minecraftfmt"
)

// minecraftfmtParse converts Minecraft formatting codes to Matrix message content.
func minecraftfmtParse(text string) *event.MessageEventContent {
	parsed := minecraftfmt.Parse(text)
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          parsed.Body,
		Format:        parsed.Format,
		FormattedBody: parsed.FormattedBody,
	}
}

// matrixfmtParse converts Matrix message content to Minecraft formatting codes.
func matrixfmtParse(content *event.MessageEventContent) string {
	return matrixfmt.Parse(content)
}
