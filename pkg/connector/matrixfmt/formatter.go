// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package matrixfmt converts Matrix HTML to Minecraft chat formatting codes.
package matrixfmt

import (
	"html"
	"math"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/aiku/mautrix-minecraft/pkg/connector/minecraftfmt"
)

var (
	replyRe      = regexp.MustCompile(`(?s)<mx-reply>.*?</mx-reply>`)
	strongRe     = regexp.MustCompile(`(?s)<(?:strong|b)>(.*?)</(?:strong|b)>`)
	emRe         = regexp.MustCompile(`(?s)<(?:em|i)>(.*?)</(?:em|i)>`)
	delRe        = regexp.MustCompile(`(?s)<(?:del|s|strike)>(.*?)</(?:del|s|strike)>`)
	underlineRe  = regexp.MustCompile(`(?s)<u>(.*?)</u>`)
	spoilerRe    = regexp.MustCompile(`(?s)<span data-mx-spoiler[^>]*>(.*?)</span>`)
	colorRe      = regexp.MustCompile(`(?s)<(?:font|span)[^>]*?(?:data-mx-color|color)="(#[0-9a-fA-F]{6})"[^>]*>(.*?)</(?:font|span)>`)
	codeRe       = regexp.MustCompile(`(?s)<code[^>]*>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre>(.*?)</pre>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`<h[1-6]>(.*?)</h[1-6]>`)
	liRe         = regexp.MustCompile(`(?s)<li>(.*?)</li>`)
	listRe       = regexp.MustCompile(`(?s)<[uo]l>(.*?)</[uo]l>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

func code(c rune) string {
	return string([]rune{minecraftfmt.Section, c})
}

var reset = code(minecraftfmt.Reset)

// Parse converts Matrix message content to a Minecraft chat line.
func Parse(content *event.MessageEventContent) string {
	if content == nil {
		return ""
	}

	// If no HTML format, return plain text body.
	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return content.Body
	}

	text := replyRe.ReplaceAllString(content.FormattedBody, "")

	// Preformatted text has no styling in game chat.
	text = preRe.ReplaceAllString(text, "$1\n")
	text = codeRe.ReplaceAllString(text, code('7')+"$1"+reset)

	text = colorRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := colorRe.FindStringSubmatch(match)
		return code(NearestColor(parts[1])) + parts[2] + reset
	})
	text = strongRe.ReplaceAllString(text, code(minecraftfmt.Bold)+"$1"+reset)
	text = emRe.ReplaceAllString(text, code(minecraftfmt.Italic)+"$1"+reset)
	text = delRe.ReplaceAllString(text, code(minecraftfmt.Strikethrough)+"$1"+reset)
	text = underlineRe.ReplaceAllString(text, code(minecraftfmt.Underline)+"$1"+reset)
	text = spoilerRe.ReplaceAllString(text, code(minecraftfmt.Obfuscated)+"$1"+reset)

	text = linkRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := linkRe.FindStringSubmatch(match)
		href, label := parts[1], parts[2]
		if strings.HasPrefix(href, "https://matrix.to/#/") || label == href {
			return label
		}
		return label + " (" + href + ")"
	})

	text = headingRe.ReplaceAllString(text, code(minecraftfmt.Bold)+"$1"+reset+"\n")
	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		lines := strings.Split(strings.TrimSpace(parts[1]), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n") + "\n"
	})
	text = listRe.ReplaceAllStringFunc(text, func(match string) string {
		ordered := strings.HasPrefix(match, "<ol")
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for i, item := range items {
			prefix := "- "
			if ordered {
				prefix = strconv.Itoa(i+1) + ". "
			}
			result = append(result, prefix+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n") + "\n"
	})

	text = pRe.ReplaceAllString(text, "$1\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = blankLinesRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// NearestColor returns the Minecraft color code closest to a #rrggbb value.
func NearestColor(hex string) rune {
	r, g, b, ok := parseHex(hex)
	if !ok {
		return 'f'
	}
	best, bestDist := 'f', math.MaxFloat64
	for c, candidate := range minecraftfmt.Colors {
		cr, cg, cb, _ := parseHex(candidate)
		dist := sq(r-cr) + sq(g-cg) + sq(b-cb)
		if dist < bestDist || (dist == bestDist && c < best) {
			best, bestDist = c, dist
		}
	}
	return best
}

func parseHex(hex string) (r, g, b float64, ok bool) {
	hex = strings.TrimPrefix(hex, "#")
	if len(hex) != 6 {
		return 0, 0, 0, false
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	return float64(v >> 16 & 0xff), float64(v >> 8 & 0xff), float64(v & 0xff), true
}

func sq(v float64) float64 {
	return v * v
}
