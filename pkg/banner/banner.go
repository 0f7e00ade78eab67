package banner

import (
	"fmt"

	"convo/pkg/config"
)

const banner = `
 ██████╗ ██████╗ ███╗   ██╗██╗   ██╗ ██████╗
██╔════╝██╔═══██╗████╗  ██║██║   ██║██╔═══██╗
██║     ██║   ██║██╔██╗ ██║██║   ██║██║   ██║
██║     ██║   ██║██║╚██╗██║╚██╗ ██╔╝██║   ██║
╚██████╗╚██████╔╝██║ ╚████║ ╚████╔╝ ╚██████╔╝
 ╚═════╝ ╚═════╝ ╚═╝  ╚═══╝  ╚═══╝   ╚═════╝
`

// Print writes the startup banner with the effective runtime settings
// and a few quick production checks.
func Print(cfg *config.Config, addr, dbPath, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("POST /v1/conversations                - Find or create a conversation with a peer")
	fmt.Println("GET  /v1/conversations                - List your conversations, most recent first")
	fmt.Println("POST /v1/conversations/{id}/open      - Open a conversation (loads tail, resets unread)")
	fmt.Println("POST /v1/conversations/{id}/messages  - Send a message (optimistic, returns temp id)")
	fmt.Println("GET  /v1/notifications/stream         - Notification events (SSE)")

	fmt.Println("\n== Production? ================================================")
	be := len(cfg.Security.APIKeys.Backend)
	fe := len(cfg.Security.APIKeys.Frontend)
	ak := len(cfg.Security.APIKeys.Admin)
	if be > 0 {
		fmt.Printf("- Backend API keys: OK (%d)\n", be)
	} else {
		fmt.Println("- Backend API keys: MISSING (required for backend services)")
	}
	if fe > 0 {
		fmt.Printf("- Frontend API keys: OK (%d)\n", fe)
	} else {
		fmt.Println("- Frontend API keys: MISSING (required for client access)")
	}
	if ak > 0 {
		fmt.Printf("- Admin API keys: OK (%d)\n", ak)
	} else {
		fmt.Println("- Admin API keys: MISSING (required for admin tooling)")
	}
	if cfg.Archive.Enabled {
		fmt.Printf("- Archive purge: enabled (cron=%s period=%s)\n", cfg.Archive.Cron, cfg.Archive.Period)
	} else {
		fmt.Println("- Archive purge: disabled")
	}

	fmt.Println("\n== Logs: ======================================================")
}
