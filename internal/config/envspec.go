package config

import "fmt"

type EnvVar struct {
	Name        string // short name under the LAMPO_ prefix (e.g., "DATADIR")
	FullName    string // e.g., "LAMPO_DATADIR"
	Type        string // human-readable type
	Default     string // default value as a string ("" if none)
	Description string // one-liner for docs
	Notes       string // optional: constraints, examples, etc.
}

func EnvSpecs() []EnvVar {
	const P = "LAMPO_"

	return []EnvVar{
		{
			Name:        "DATADIR",
			FullName:    P + "DATADIR",
			Type:        "string (path)",
			Default:     "lampo",
			Description: "Data directory for lampo state",
		},
		{
			Name:        "DB_TYPE",
			FullName:    P + "DB_TYPE",
			Type:        "string",
			Default:     "badger",
			Description: "Database backend: badger",
		},
		{
			Name:        "LOG_LEVEL",
			FullName:    P + "LOG_LEVEL",
			Type:        "uint32 (0-5)",
			Default:     "4",
			Description: "Log verbosity (higher = more verbose)",
		},
		{
			Name:        "ARK_SERVER",
			FullName:    P + "ARK_SERVER",
			Type:        "string (host:port)",
			Default:     "",
			Description: "Ark server address (e.g., arkd:7070)",
		},
		{
			Name:        "ESPLORA_URL",
			FullName:    P + "ESPLORA_URL",
			Type:        "string (URL)",
			Default:     "",
			Description: "Esplora base URL (e.g., http://chopsticks:3000)",
		},
		{
			Name:        "ELECTRUM_URL",
			FullName:    P + "ELECTRUM_URL",
			Type:        "string (host:port)",
			Default:     "",
			Description: "Electrum server address for block height polling (e.g., blockstream.info:700)",
			Notes:       "Optional, takes precedence over " + P + "ESPLORA_URL for height polling",
		},
		{
			Name:        "BOLTZ_URL",
			FullName:    P + "BOLTZ_URL",
			Type:        "string (URL)",
			Default:     "",
			Description: "Boltz HTTP endpoint (e.g., http://boltz:9001)",
		},
		{
			Name:        "BOLTZ_WS_URL",
			FullName:    P + "BOLTZ_WS_URL",
			Type:        "string (URL)",
			Default:     "",
			Description: "Boltz WebSocket endpoint (e.g., ws://boltz:9002)",
		},
		{
			Name:        "SWAP_TIMEOUT",
			FullName:    P + "SWAP_TIMEOUT",
			Type:        "uint32 (seconds)",
			Default:     fmt.Sprintf("%d", 120),
			Description: "Swap timeout in seconds",
		},
		{
			Name:        "REFRESH_INTERVAL",
			FullName:    P + "REFRESH_INTERVAL",
			Type:        "uint32 (seconds)",
			Default:     fmt.Sprintf("%d", 300),
			Description: "Swap status refresh interval in seconds",
		},
		{
			Name:        "BLOCK_POLL_DELAY",
			FullName:    P + "BLOCK_POLL_DELAY",
			Type:        "uint32 (seconds)",
			Default:     fmt.Sprintf("%d", 30),
			Description: "Block height poll interval in seconds",
		},
		{
			Name:        "PRIVATE_KEY",
			FullName:    P + "PRIVATE_KEY",
			Type:        "string (hex)",
			Default:     "",
			Description: "Hex-encoded wallet private key",
			Notes:       "Keep this secret; prefer injecting it via the environment",
		},
	}
}
