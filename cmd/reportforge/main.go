// Package main is the entry point for the reportforge CLI.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	// Load .env for NATS credentials and similar environment overrides.
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("reportforge"),
		kong.Description("Build-plan orchestration engine for report assembly."),
		kongVars(),
	)
	ctx.FatalIfErrorf(ctx.Run())
}

// Run prints version information.
func (v *VersionCmd) Run() error {
	fmt.Printf("reportforge version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
