// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// watch_cmd.go - the default command: run the session keeper against the
// stored session until it ends.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/posgateway/amlsession/internal/config"
	"github.com/posgateway/amlsession/internal/logging"
	"github.com/posgateway/amlsession/internal/session"
	"github.com/posgateway/amlsession/internal/storage"
	"github.com/posgateway/amlsession/internal/ui/styles"
	"github.com/posgateway/amlsession/internal/ui/watch"
)

// HandleWatch tracks activity for the stored session. It runs the TUI on a
// terminal and line output otherwise.
func HandleWatch(ctx context.Context, args Args) error {
	p := NewArgParserBool(args.Raw, "plain")

	e, err := setup(ctx, args)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.requireLogin(); err != nil {
		return err
	}

	kcfg := e.cfg.KeeperConfig()
	if page := p.Flag("page"); page != "" {
		kcfg.Page = page
	}

	var loginURL string
	if !p.BoolFlag("plain") && IsTTY() && IsStdoutTTY() {
		loginURL, err = runTUI(ctx, e, kcfg)
	} else {
		loginURL, err = runPlain(ctx, e, kcfg)
	}
	if err != nil {
		return err
	}
	if loginURL == "" {
		return nil
	}

	// The server session is gone; a stale cookie would only produce 401s.
	if err := e.store.Delete(context.Background(), storage.KeySessionCookie); err != nil {
		slog.Warn("SESSION_COOKIE_CLEAR_FAILED", "error", err)
	}
	fmt.Fprintf(stdout, "Session ended. Sign in again at %s or run 'amlsession login'.\n", loginURL)
	return nil
}

// runTUI runs the Bubble Tea watch screen. Logs go to a file so they do not
// tear the alternate screen.
func runTUI(ctx context.Context, e *env, kcfg session.Config) (string, error) {
	if dir, err := config.ConfigDir(); err == nil {
		if f, err := logging.OpenFile(filepath.Join(dir, "amlsession.log")); err == nil {
			defer f.Close()
			logging.InitLogger(e.cfg.Log.Level, e.cfg.Log.Format, f)
		}
	}

	var username string
	if info, err := e.client.Info(ctx); err == nil && info.Active {
		username = info.Username
	}

	bridge := watch.NewBridge()
	k, err := session.Open(ctx, kcfg, session.Options{
		Sync:       e.client,
		Hints:      e.store,
		View:       bridge,
		Redirector: bridge,
	})
	if err != nil {
		bridge.Close()
		return "", err
	}

	m := watch.New(ctx, k, bridge, watch.Options{
		Theme:    styles.NewTheme(),
		Page:     kcfg.Page,
		Username: username,
	})
	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			prog.Quit()
		case <-stop:
		}
	}()

	final, runErr := prog.Run()
	close(stop)

	// The program is gone: drop further events, then let the keeper finish
	// any expiry notice still on screen.
	bridge.Close()
	k.Close()

	if runErr != nil {
		return "", fmt.Errorf("watch screen failed: %w", runErr)
	}
	if fm, ok := final.(watch.Model); ok && fm.RedirectURL() != "" {
		return fm.RedirectURL(), nil
	}
	return endedURL(k, kcfg), nil
}

// runPlain prints session events as lines and treats each input line as
// activity.
func runPlain(ctx context.Context, e *env, kcfg session.Config) (string, error) {
	view := watch.NewPlainView(stdout, nil)
	k, err := session.Open(ctx, kcfg, session.Options{
		Sync:       e.client,
		Hints:      e.store,
		View:       view,
		Redirector: view,
	})
	if err != nil {
		return "", err
	}

	readCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := watch.ReadActivity(readCtx, stdin, k); err != nil && !errors.Is(err, context.Canceled) {
			slog.Debug("ACTIVITY_INPUT_ENDED", "error", err)
		}
	}()

	var url string
	select {
	case url = <-view.Redirected():
	case <-ctx.Done():
	}
	cancel()
	k.Close()
	if url == "" {
		url = endedURL(k, kcfg)
	}
	return url, nil
}

// endedURL is the login URL when the keeper redirected, which Close does for
// an expiry notice still on screen. Otherwise "".
func endedURL(k *session.Keeper, kcfg session.Config) string {
	select {
	case <-k.Done():
		return session.ExpiredLoginURL(kcfg.LoginURL)
	default:
		return ""
	}
}
