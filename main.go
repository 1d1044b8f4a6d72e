// pvanet — pvAccess-style UDP server transport core
//
// Usage:
//
//	pvanet server  — run the UDP beacon/discovery server
//	pvanet edit    — edit the configuration file
package main

import (
	"fmt"
	"os"

	"pvanet/cmd/server"
)

const (
	defaultSystemPath = "/etc/pvanet/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "0.3.0"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	configPath := ""

	// Parse --config flag if present
	args := os.Args[1:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			args = append(args[:i], args[i+2:]...)
			i--
			continue
		}
		if len(arg) > 9 && arg[:9] == "--config=" {
			configPath = arg[9:]
			args = append(args[:i], args[i+1:]...)
			i--
			continue
		}
	}

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	var err error

	switch subcommand {
	case "server":
		err = server.Run(configPath)
	case "edit":
		err = server.EditConfig(configPath)
	case "version":
		fmt.Printf("pvanet v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`pvanet v%s — pvAccess-style UDP server transport core

Usage:
  pvanet <command> [--config <path>]

Commands:
  server   Run the UDP beacon/discovery server
  edit     Edit the configuration file in your system editor
  version  Print version information
  help     Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Examples:
  pvanet server                         # Run with default config
  pvanet server --config /tmp/pva.toml  # Run with an explicit config
  pvanet edit                           # Edit configuration

`, version, defaultSystemPath)
}
