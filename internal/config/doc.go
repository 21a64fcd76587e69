// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for amlsession.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// .env files, environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: main configuration structure
//   - APIConfig: where the back-office session API lives
//   - SessionConfig: client-side timeout, warning and sync timings
//   - ServerConfig: the development session server
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (AMLSESSION_*, also read from ./.env)
//   - ~/.amlsession/config.toml
//   - ~/.amlsession/config.json
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	keeper, err := session.Open(ctx, cfg.KeeperConfig(), opts)
package config
