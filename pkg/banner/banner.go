package banner

import (
	"fmt"
	"strings"

	"wisdomchat/pkg/config"
)

const banner = `
██╗    ██╗██╗███████╗██████╗  ██████╗ ███╗   ███╗     ██████╗██╗  ██╗ █████╗ ████████╗
██║    ██║██║██╔════╝██╔══██╗██╔═══██╗████╗ ████║    ██╔════╝██║  ██║██╔══██╗╚══██╔══╝
██║ █╗ ██║██║███████╗██║  ██║██║   ██║██╔████╔██║    ██║     ███████║███████║   ██║
██║███╗██║██║╚════██║██║  ██║██║   ██║██║╚██╔╝██║    ██║     ██╔══██║██╔══██║   ██║
╚███╔███╔╝██║███████║██████╔╝╚██████╔╝██║ ╚═╝ ██║    ╚██████╗██║  ██║██║  ██║   ██║
 ╚══╝╚══╝ ╚═╝╚══════╝╚═════╝  ╚═════╝ ╚═╝     ╚═╝     ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝
`

// PrintWithEff prints the banner using an EffectiveConfigResult which
// provides richer context (config, addr, dbpath, source).
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	var addr = eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	var dbPath = eff.DBPath
	if dbPath == "" && eff.Config != nil {
		dbPath = eff.Config.Server.DBPath
	}
	var src = eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config: %s\n", src)

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/chats                      - Open (or find) a direct chat")
	fmt.Println("GET  /v1/chats                      - List your chats with unread counts")
	fmt.Println("POST /v1/chats/{id}/messages        - Send a message")
	fmt.Println("GET  /v1/chats/{id}/messages        - Page through a chat's messages")
	fmt.Println("GET  /v1/ws?token=<jwt>             - Real-time events")

	fmt.Println("\n== Production? =================================================")
	// JWT secret
	jwtOK := eff.Config != nil && strings.TrimSpace(eff.Config.Security.JWT.Secret) != ""
	if jwtOK {
		fmt.Println("- JWT secret: configured")
	} else {
		fmt.Println("- JWT secret: MISSING (required; all API requests carry a bearer token)")
	}

	// TLS
	tlsOK := eff.Config != nil && eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != ""
	if tlsOK {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}

	// DB path
	if eff.DBPath != "" {
		fmt.Printf("- DB Path: %s\n", eff.DBPath)
	} else {
		fmt.Println("- DB Path: not set (use --db or WISDOMCHAT_DB_PATH)")
	}

	// Uploads
	if eff.Config != nil && eff.Config.Uploads.Dir != "" {
		fmt.Printf("- Uploads: %s\n", eff.Config.Uploads.Dir)
	} else {
		fmt.Println("- Uploads: default (under the state directory)")
	}

	// Outbox redrive
	if eff.Config != nil && eff.Config.Outbox.Redrive.Enabled {
		if eff.Config.Outbox.Redrive.Cron != "" {
			fmt.Printf("- Outbox redrive: enabled (cron=%s)\n", eff.Config.Outbox.Redrive.Cron)
		} else {
			fmt.Println("- Outbox redrive: enabled")
		}
	} else {
		fmt.Println("- Outbox redrive: disabled (stale effects recover only at restart)")
	}

	fmt.Println("\n== Logs: =================================================")
}
