// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/posgateway/amlsession/internal/config"
	"github.com/posgateway/amlsession/internal/logging"
	"github.com/posgateway/amlsession/internal/sessionapi"
	"github.com/posgateway/amlsession/internal/storage"
)

// env is everything a session command needs.
type env struct {
	cfg     *config.Config
	cfgPath string
	store   *storage.Store
	client  *sessionapi.Client
}

// loadConfig reads --config when given, otherwise the default locations,
// then applies --base-url.
func loadConfig(args Args) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path = args.ConfigPath
		err  error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
		if p, perr := config.ConfigPathTOML(); perr == nil {
			path = p
		}
	}
	if err != nil {
		return nil, "", err
	}
	if args.BaseURL != "" {
		cfg.API.BaseURL = strings.TrimRight(args.BaseURL, "/")
	}
	return cfg, path, nil
}

// setup loads the config, initializes logging and opens the hint store and
// API client. The stored session cookie is restored into the client.
func setup(ctx context.Context, args Args) (*env, error) {
	cfg, path, err := loadConfig(args)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if args.Verbose {
		level = "debug"
	}
	logging.InitLogger(level, cfg.Log.Format, stderr)

	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, err
	}

	client, err := sessionapi.New(sessionapi.Config{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    cfg.APITimeout(),
		CookieName: cfg.API.CookieName,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	cookie, err := store.SessionCookie(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to read stored session: %w", err)
	}
	client.SetSessionCookie(cookie)

	slog.Debug("CLI_SETUP", "base_url", client.BaseURL(), "db", dbPath, "has_cookie", cookie != "")
	return &env{cfg: cfg, cfgPath: path, store: store, client: client}, nil
}

// requireLogin fails with ErrNotLoggedIn when no cookie is stored.
func (e *env) requireLogin() error {
	if e.client.SessionCookie() == "" {
		return ErrNotLoggedIn
	}
	return nil
}

func (e *env) Close() error {
	return e.store.Close()
}
