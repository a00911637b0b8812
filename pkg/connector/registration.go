// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"regexp"

	"maunium.net/go/mautrix/appservice"
)

// Protocol is the third-party protocol ID advertised in the registration.
const Protocol = "minecraft"

// GenerateRegistration builds a fresh appservice registration with random
// tokens. The bot and every ghost live in one exclusive user namespace.
func GenerateRegistration(cfg *Config) *appservice.Registration {
	reg := appservice.CreateRegistration()
	reg.ID = cfg.AppService.ID
	reg.URL = cfg.AppService.Address
	reg.SenderLocalpart = cfg.AppService.BotUsername
	rateLimited := false
	reg.RateLimited = &rateLimited
	reg.Protocols = []string{Protocol}

	userRe := regexp.MustCompile(fmt.Sprintf("^@%s.*:%s$",
		regexp.QuoteMeta(cfg.AppService.UsernamePrefix),
		regexp.QuoteMeta(cfg.Homeserver.Domain),
	))
	reg.Namespaces.UserIDs.Register(userRe, true)
	if !userRe.MatchString("@" + cfg.AppService.BotUsername + ":" + cfg.Homeserver.Domain) {
		botRe := regexp.MustCompile(fmt.Sprintf("^@%s:%s$",
			regexp.QuoteMeta(cfg.AppService.BotUsername),
			regexp.QuoteMeta(cfg.Homeserver.Domain),
		))
		reg.Namespaces.UserIDs.Register(botRe, true)
	}
	return reg
}
