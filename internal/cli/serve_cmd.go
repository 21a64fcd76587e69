// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve_cmd.go - the development session server.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/posgateway/amlsession/internal/config"
	"github.com/posgateway/amlsession/internal/logging"
	"github.com/posgateway/amlsession/internal/server"
)

// HandleServe runs the development session server until ctx is cancelled.
// The config file is watched; user and timeout changes apply without a
// restart.
func HandleServe(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)

	cfg, path, err := loadConfig(args)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if args.Verbose {
		level = "debug"
	}
	logging.InitLogger(level, cfg.Log.Format, stderr)

	addr := p.FlagOrDefault("addr", cfg.Server.Addr)

	var devUser map[string]string
	if devSpec := p.Flag("dev-user"); devSpec != "" {
		name, pass, ok := strings.Cut(devSpec, ":")
		if !ok || name == "" || pass == "" {
			return &UsageError{Command: "serve", Reason: "--dev-user must be NAME:PASSWORD"}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash dev user password: %w", err)
		}
		devUser = map[string]string{name: string(hash)}
	}

	opts := server.Options{
		Addr:           addr,
		SessionTimeout: cfg.ServerSessionTimeout(),
		CookieName:     cfg.Server.CookieName,
		CookieSecret:   []byte(cfg.Server.CookieSecret),
		Users:          serverUsers(cfg, devUser),
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}
	if cfg.Server.RedisURL != "" {
		reg, err := server.NewRedisRegistry(ctx, cfg.Server.RedisURL, nil)
		if err != nil {
			return &CommandError{Command: "serve", Err: err}
		}
		opts.Registry = reg
	}

	srv, err := server.New(opts)
	if err != nil {
		return &CommandError{Command: "serve", Err: err}
	}
	if len(opts.Users) == 0 {
		slog.Warn("SERVER_NO_USERS", "hint", "add [[server.users]] or pass --dev-user")
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			go func() {
				err := config.Watch(ctx, path, config.DefaultWatchDebounce, func(next *config.Config) {
					srv.SetUsers(serverUsers(next, devUser))
					srv.SetSessionTimeout(next.ServerSessionTimeout())
					slog.Info("SERVER_CONFIG_RELOADED", "users", len(next.Server.Users), "timeout", next.ServerSessionTimeout())
				})
				if err != nil {
					slog.Warn("CONFIG_WATCH_FAILED", "path", path, "error", err)
				}
			}()
		}
	}

	return srv.Run(ctx)
}

// serverUsers merges the configured logins with the --dev-user login.
func serverUsers(cfg *config.Config, extra map[string]string) map[string]string {
	users := make(map[string]string, len(cfg.Server.Users)+len(extra))
	for _, u := range cfg.Server.Users {
		users[u.Username] = u.PasswordHash
	}
	for name, hash := range extra {
		users[name] = hash
	}
	return users
}
