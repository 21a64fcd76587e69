// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - config subcommands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/posgateway/amlsession/internal/config"
	"github.com/posgateway/amlsession/internal/ui/styles"
)

// HandleConfig dispatches config subcommands. Without one it shows the
// effective config.
func HandleConfig(ctx context.Context, args Args) error {
	p := NewArgParserBool(args.Raw, "force")

	switch sub := p.Subcommand(); sub {
	case "", "show":
		return configShow(args)
	case "path":
		return configPath(args)
	case "init":
		return configInit(args, p.BoolFlag("force"))
	case "get":
		return configGet(args, p)
	case "set":
		return configSet(args, p)
	case "keys":
		return configKeys(args)
	case "hash-password":
		return configHashPassword(args)
	default:
		return &UsageError{Command: "config " + sub, Reason: "unknown subcommand"}
	}
}

// targetPath is the file config init and set write to.
func targetPath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	return config.ConfigPathTOML()
}

func saveConfig(cfg *config.Config, path string) error {
	if strings.HasSuffix(path, ".json") {
		return config.SaveJSON(cfg, path)
	}
	return config.SaveTOML(cfg, path)
}

func configShow(args Args) error {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}
	if args.JSON {
		safe := cfg.Clone()
		if safe.Server.CookieSecret != "" {
			safe.Server.CookieSecret = "[REDACTED]"
		}
		for i := range safe.Server.Users {
			safe.Server.Users[i].PasswordHash = "[REDACTED]"
		}
		return NewJSONResponse("config show", safe).Print(stdout)
	}
	fmt.Fprintln(stdout, cfg.String())
	return nil
}

func configPath(args Args) error {
	path, err := targetPath(args)
	if err != nil {
		return err
	}
	_, statErr := os.Stat(path)
	exists := statErr == nil

	if args.JSON {
		return NewJSONResponse("config path", map[string]any{"path": path, "exists": exists}).Print(stdout)
	}
	fmt.Fprintln(stdout, path)
	if !exists {
		fmt.Fprintln(stderr, DimStyle.Render("(not created yet; run 'amlsession config init')"))
	}
	return nil
}

func configInit(args Args, force bool) error {
	path, err := targetPath(args)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil && !force {
		return &UsageError{Command: "config init", Reason: path + " already exists; use --force to overwrite"}
	}
	if err := saveConfig(config.Default(), path); err != nil {
		return err
	}
	if args.JSON {
		return NewJSONResponse("config init", map[string]string{"path": path}).Print(stdout)
	}
	fmt.Fprintln(stdout, styles.RenderSuccess("Wrote "+path))
	return nil
}

func configGet(args Args, p *ArgParser) error {
	key := p.Positional(1)
	if key == "" {
		return &UsageError{Command: "config get", Reason: "missing KEY"}
	}
	cfg, _, err := loadConfig(args)
	if err != nil {
		return err
	}
	v, err := cfg.Get(key)
	if err != nil {
		return &UsageError{Command: "config get", Reason: err.Error()}
	}
	if key == "server.cookie_secret" && v != "" {
		v = "[REDACTED]"
	}
	if args.JSON {
		return NewJSONResponse("config get", map[string]any{"key": key, "value": v}).Print(stdout)
	}
	fmt.Fprintln(stdout, v)
	return nil
}

// configSet edits the config file itself, not the effective config, so
// environment overrides are never written back.
func configSet(args Args, p *ArgParser) error {
	key, value := p.Positional(1), p.Positional(2)
	if key == "" || p.PositionalCount() < 3 {
		return &UsageError{Command: "config set", Reason: "usage: config set KEY VALUE"}
	}
	path, err := targetPath(args)
	if err != nil {
		return err
	}

	cfg := config.Default()
	if _, err := os.Stat(path); err == nil {
		if strings.HasSuffix(path, ".json") {
			err = config.LoadJSON(cfg, path)
		} else {
			err = config.LoadTOML(cfg, path)
		}
		if err != nil {
			return err
		}
	}

	if err := cfg.Set(key, value); err != nil {
		return &UsageError{Command: "config set", Reason: err.Error()}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := saveConfig(cfg, path); err != nil {
		return err
	}

	if args.JSON {
		return NewJSONResponse("config set", map[string]string{"key": key, "value": value, "path": path}).Print(stdout)
	}
	fmt.Fprintln(stdout, styles.RenderSuccess(fmt.Sprintf("%s = %s", key, value)))
	return nil
}

func configKeys(args Args) error {
	keys := config.Keys()
	if args.JSON {
		return NewJSONResponse("config keys", keys).Print(stdout)
	}
	for _, k := range keys {
		fmt.Fprintln(stdout, k)
	}
	return nil
}

// configHashPassword prints a bcrypt hash for a [[server.users]] entry.
func configHashPassword(args Args) error {
	pass, err := readPassword("Password: ")
	if err != nil {
		return err
	}
	if pass == "" {
		return errors.New("password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if args.JSON {
		return NewJSONResponse("config hash-password", map[string]string{"hash": string(hash)}).Print(stdout)
	}
	fmt.Fprintln(stdout, string(hash))
	return nil
}
