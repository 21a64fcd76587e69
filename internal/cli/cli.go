// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - command line parsing and dispatch for amlsession.
package cli

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdWatch Command = iota
	CmdCheck
	CmdRefresh
	CmdInfo
	CmdLogout
	CmdLogin
	CmdServe
	CmdConfig
	CmdVersion
	CmdHelp
	CmdUnknown
)

var commandNames = map[string]Command{
	"watch":   CmdWatch,
	"check":   CmdCheck,
	"refresh": CmdRefresh,
	"extend":  CmdRefresh,
	"info":    CmdInfo,
	"status":  CmdInfo,
	"logout":  CmdLogout,
	"login":   CmdLogin,
	"serve":   CmdServe,
	"server":  CmdServe,
	"config":  CmdConfig,
	"version": CmdVersion,
	"help":    CmdHelp,
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	JSON       bool
	Verbose    bool
	BaseURL    string

	// Name is the command word as typed.
	Name string

	// Raw args (remaining after the command word)
	Raw []string
}

const usageText = "# amlsession\n\n" +
	"Keeps an AML back-office session alive while you work and signs you out when you walk away.\n\n" +
	"## Usage\n\n" +
	"```\n" +
	"amlsession [global flags] <command> [flags]\n" +
	"```\n\n" +
	"## Commands\n\n" +
	"| Command | Description |\n" +
	"|---|---|\n" +
	"| `watch` | Track activity and show the timeout warning (default) |\n" +
	"| `login` | Sign in and store the session cookie |\n" +
	"| `check` | Ask the server whether the session is still valid |\n" +
	"| `refresh` | Extend the session on the server |\n" +
	"| `info` | Show server-side session details |\n" +
	"| `logout` | Invalidate the session and forget the cookie |\n" +
	"| `serve` | Run the development session server |\n" +
	"| `config` | show, path, init, get, set, keys, hash-password |\n" +
	"| `version` | Print version information |\n\n" +
	"## Global flags\n\n" +
	"- `--config PATH` read this config file instead of ~/.amlsession/config.toml\n" +
	"- `--base-url URL` override api.base_url\n" +
	"- `--json` machine-readable output\n" +
	"- `-v, --verbose` debug logging\n\n" +
	"## Command flags\n\n" +
	"- `watch --page PATH --plain` page to restore after re-login; line output instead of the TUI\n" +
	"- `login --user NAME --password-stdin` non-interactive login\n" +
	"- `serve --addr ADDR --dev-user NAME:PASSWORD` listen address; extra in-memory login\n" +
	"- `config init --force` overwrite an existing config file\n\n" +
	"## Exit codes\n\n" +
	"0 success, 1 error, 2 usage, 3 config, 4 not signed in, 5 network\n"

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs splits argv into global flags, a command and its arguments.
// Global flags may appear anywhere before the command word.
func ParseArgs(argv []string) (Command, Args) {
	var parsed Args

	i := 0
flags:
	for ; i < len(argv); i++ {
		arg := argv[i]
		switch {
		case arg == "--json":
			parsed.JSON = true
		case arg == "-v" || arg == "--verbose":
			parsed.Verbose = true
		case arg == "--config" && i+1 < len(argv):
			i++
			parsed.ConfigPath = argv[i]
		case strings.HasPrefix(arg, "--config="):
			parsed.ConfigPath = strings.TrimPrefix(arg, "--config=")
		case arg == "--base-url" && i+1 < len(argv):
			i++
			parsed.BaseURL = argv[i]
		case strings.HasPrefix(arg, "--base-url="):
			parsed.BaseURL = strings.TrimPrefix(arg, "--base-url=")
		case arg == "-h" || arg == "--help":
			return CmdHelp, parsed
		case arg == "--version":
			return CmdVersion, parsed
		default:
			break flags
		}
	}

	if i >= len(argv) {
		return CmdWatch, parsed
	}

	parsed.Name = strings.ToLower(argv[i])
	parsed.Raw = argv[i+1:]
	// Trailing --json is common enough to accept after the command too.
	rest := parsed.Raw[:0:0]
	for _, a := range parsed.Raw {
		if a == "--json" {
			parsed.JSON = true
			continue
		}
		rest = append(rest, a)
	}
	parsed.Raw = rest

	if cmd, ok := commandNames[parsed.Name]; ok {
		return cmd, parsed
	}
	return CmdUnknown, parsed
}

// Run executes cmd.
func Run(ctx context.Context, cmd Command, args Args) error {
	switch cmd {
	case CmdHelp:
		return HandleHelp()
	case CmdVersion:
		return HandleVersion(args)
	case CmdConfig:
		return HandleConfig(ctx, args)
	case CmdServe:
		return HandleServe(ctx, args)
	case CmdWatch:
		return HandleWatch(ctx, args)
	case CmdCheck:
		return HandleCheck(ctx, args)
	case CmdRefresh:
		return HandleRefresh(ctx, args)
	case CmdInfo:
		return HandleInfo(ctx, args)
	case CmdLogout:
		return HandleLogout(ctx, args)
	case CmdLogin:
		return HandleLogin(ctx, args)
	default:
		return &UsageError{Command: args.Name, Reason: "unknown command"}
	}
}

// HandleHelp prints the usage text, rendered as markdown on a color terminal.
func HandleHelp() error {
	if ColorsEnabled() && isTerminalWriter(stdout) {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(GetTerminalWidth()),
		)
		if err == nil {
			if out, err := r.Render(usageText); err == nil {
				_, err = fmt.Fprint(stdout, out)
				return err
			}
		}
	}
	_, err := fmt.Fprint(stdout, usageText)
	return err
}

// VersionData is the JSON form of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// HandleVersion prints version information.
func HandleVersion(args Args) error {
	data := VersionData{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if args.JSON {
		return NewJSONResponse("version", data).Print(stdout)
	}
	fmt.Fprintln(stdout, TitleStyle.Render("amlsession "+Version))
	fmt.Fprintln(stdout, RenderField("Commit", GitCommit))
	fmt.Fprintln(stdout, RenderField("Built", BuildDate))
	fmt.Fprintln(stdout, RenderField("Go", data.GoVersion))
	fmt.Fprintln(stdout, RenderField("Platform", data.Platform))
	return nil
}
