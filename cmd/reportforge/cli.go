// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Run       RunCmd       `cmd:"" help:"Run the build pipeline for a report template"`
	Serve     ServeCmd     `cmd:"" help:"Serve the engine over the NATS command queue"`
	Skillsets SkillsetsCmd `cmd:"" help:"List stored website skillsets"`
	Replay    ReplayCmd    `cmd:"" help:"Print a session event log"`
	Version   VersionCmd   `cmd:"" help:"Show version information"`
}

// RunCmd runs the full pipeline over a target template.
type RunCmd struct {
	Target   string   `arg:"" help:"Report template to analyze"`
	Source   []string `short:"s" help:"Source data file (repeatable)"`
	Site     []string `help:"Website to explore for capabilities (repeatable)"`
	Skillset string   `help:"Use a stored skillset instead of exploring"`
	Config   string   `help:"Config file path"`
	Force    bool     `help:"Ignore cached artifacts"`
}

// ServeCmd runs the engine headless behind the command queue.
type ServeCmd struct {
	Config string `help:"Config file path"`
}

// SkillsetsCmd lists the skillset registry.
type SkillsetsCmd struct {
	Config string `help:"Config file path"`
}

// ReplayCmd prints a stored session log.
type ReplayCmd struct {
	Session string `arg:"" help:"Session ID to replay"`
	Config  string `help:"Config file path"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
