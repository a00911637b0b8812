// Copyright 2024-2026 Aiku AI

// Package minecraftfmt converts Minecraft legacy formatting codes to Matrix
// HTML.
package minecraftfmt

import (
	"html"
	"strings"

	"maunium.net/go/mautrix/event"
)

// Section is the prefix rune of a formatting code.
const Section = '§'

// ParsedMessage holds the result of converting a Minecraft chat line to
// Matrix format.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
}

// Colors maps color code characters to their RGB hex value.
var Colors = map[rune]string{
	'0': "#000000",
	'1': "#0000aa",
	'2': "#00aa00",
	'3': "#00aaaa",
	'4': "#aa0000",
	'5': "#aa00aa",
	'6': "#ffaa00",
	'7': "#aaaaaa",
	'8': "#555555",
	'9': "#5555ff",
	'a': "#55ff55",
	'b': "#55ffff",
	'c': "#ff5555",
	'd': "#ff55ff",
	'e': "#ffff55",
	'f': "#ffffff",
}

// Formatting codes.
const (
	Obfuscated    = 'k'
	Bold          = 'l'
	Strikethrough = 'm'
	Underline     = 'n'
	Italic        = 'o'
	Reset         = 'r'
)

type style struct {
	color         string
	bold          bool
	italic        bool
	underline     bool
	strikethrough bool
	obfuscated    bool
}

func (s style) plain() bool {
	return s == style{}
}

func (s style) wrap(text string) string {
	text = html.EscapeString(text)
	text = strings.ReplaceAll(text, "\n", "<br/>")
	if s.obfuscated {
		text = "<span data-mx-spoiler>" + text + "</span>"
	}
	if s.strikethrough {
		text = "<del>" + text + "</del>"
	}
	if s.underline {
		text = "<u>" + text + "</u>"
	}
	if s.italic {
		text = "<em>" + text + "</em>"
	}
	if s.bold {
		text = "<strong>" + text + "</strong>"
	}
	if s.color != "" {
		text = `<font color="` + s.color + `">` + text + `</font>`
	}
	return text
}

// apply updates the style for one code. A color code clears formatting the
// same way the game client does.
func (s style) apply(code rune) style {
	if color, ok := Colors[code]; ok {
		return style{color: color}
	}
	switch code {
	case Obfuscated:
		s.obfuscated = true
	case Bold:
		s.bold = true
	case Strikethrough:
		s.strikethrough = true
	case Underline:
		s.underline = true
	case Italic:
		s.italic = true
	case Reset:
		return style{}
	}
	return s
}

// Parse converts a chat line with formatting codes to Matrix event content.
// Lines without codes are returned as plain text.
func Parse(text string) *ParsedMessage {
	if !strings.ContainsRune(text, Section) {
		return &ParsedMessage{Body: text}
	}

	var body, formatted, segment strings.Builder
	var current style
	styled := false
	flush := func() {
		if segment.Len() == 0 {
			return
		}
		if !current.plain() {
			styled = true
		}
		formatted.WriteString(current.wrap(segment.String()))
		segment.Reset()
	}

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r != Section {
			segment.WriteRune(r)
			body.WriteRune(r)
			continue
		}
		if i+1 >= len(runes) {
			break
		}
		i++
		next := current.apply(toLower(runes[i]))
		if next != current {
			flush()
			current = next
		}
	}
	flush()

	if !styled {
		return &ParsedMessage{Body: body.String()}
	}
	return &ParsedMessage{
		Body:          body.String(),
		Format:        event.FormatHTML,
		FormattedBody: formatted.String(),
	}
}

// Strip removes all formatting codes from text.
func Strip(text string) string {
	return Parse(text).Body
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
