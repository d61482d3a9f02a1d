/*
main.go - Application entry point

PURPOSE:
  Command-line entry for the settlement engine: the HTTP server plus
  operator commands for drift scans and obligation inspection.

COMMANDS:
  serve                          Start the HTTP API (and drift scheduler)
  drift scan [--tolerance] [--fix]
                                 List drifted users, optionally fixing them
  drift fix USER_ID              Fix one user's cached balance
  obligations list SHOP_ID USER_ID
                                 Print pending obligations in FIFO order

GLOBAL FLAGS:
  --config   TOML config file (default: settlement.toml, optional)
  --db       SQLite database path, overrides [database].path
  --port     HTTP port, overrides [server].port

ENVIRONMENT:
  LOG_LEVEL  Used when [log].level is empty

SEE ALSO:
  - config/config.go: Configuration file format
  - api/server.go: Router configuration
*/
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
