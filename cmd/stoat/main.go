// stoat is the command-line interface for the go-stoat event store.
//
// Usage:
//
//	stoat <command> [flags]
//
// Commands:
//
//	init        Create the event store schema
//	append      Append an event to an aggregate
//	events      List the events of an aggregate
//	by-type     List events of one type across aggregates
//	snapshot    Show or create the latest snapshot of an aggregate
//	replay      Fold an aggregate's events into a JSON view
//	health      Check backend and cache connectivity
//	version     Show version information
//
// Examples:
//
//	# Write stoat.yaml and create a sqlite schema
//	stoat init --write-config --dsn events.db
//
//	# Append and read back
//	stoat append user-1 UserCreated --aggregate-type User --data '{"email":"a@b.c"}'
//	stoat events user-1
//
//	# Against postgres, configured from the environment
//	STOAT_BACKEND=postgres STOAT_DSN=$DATABASE_URL stoat replay user-1 -o json
package main

import (
	"os"

	"github.com/AshkanYarmoradi/go-stoat/cli/commands"
)

// Build information (set via ldflags)
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	commands.Version = version
	commands.Commit = commit
	commands.BuildDate = buildDate

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
