// amlsession - keeps an AML back-office session alive while the analyst is
// active and signs them out when they are not.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/posgateway/amlsession/internal/cli"
	"github.com/posgateway/amlsession/internal/ui/styles"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with cli package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.Run(ctx, cmd, args)
	stop()

	if err != nil {
		if args.JSON {
			_ = cli.NewJSONErrorResponse(args.Name, err).Print(os.Stdout)
		} else {
			fmt.Fprintln(os.Stderr, styles.RenderError(err.Error()))
		}
		os.Exit(cli.ExitCode(err))
	}
}
