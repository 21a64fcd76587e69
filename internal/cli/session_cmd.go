// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// session_cmd.go - one-shot session commands: check, refresh, info, logout
// and login.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/posgateway/amlsession/internal/session"
	"github.com/posgateway/amlsession/internal/ui/styles"
)

// CheckData is the JSON form of the check command.
type CheckData struct {
	Valid            bool   `json:"valid"`
	TimeRemaining    *int64 `json:"timeRemaining,omitempty"`
	LastAccessedTime string `json:"lastAccessedTime,omitempty"`
}

// HandleCheck asks the server whether the stored session is still valid.
func HandleCheck(ctx context.Context, args Args) error {
	e, err := setup(ctx, args)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.requireLogin(); err != nil {
		return err
	}

	res, err := e.client.Check(ctx)
	if err != nil {
		return &CommandError{Command: "check", Err: err}
	}
	if !res.Valid {
		return &CommandError{Command: "check", Err: session.ErrUnauthenticated}
	}
	if res.HasTimeRemaining {
		if err := e.store.SaveTimeout(ctx, res.TimeRemaining); err != nil {
			slog.Warn("HINT_SAVE_FAILED", "error", err)
		}
	}

	data := CheckData{Valid: true}
	if res.HasTimeRemaining {
		secs := int64(res.TimeRemaining / time.Second)
		data.TimeRemaining = &secs
	}
	if !res.LastAccessed.IsZero() {
		data.LastAccessedTime = res.LastAccessed.UTC().Format(time.RFC3339)
	}
	if args.JSON {
		return NewJSONResponse("check", data).Print(stdout)
	}

	fmt.Fprintln(stdout, styles.RenderSuccess("Session valid"))
	if res.HasTimeRemaining {
		fmt.Fprintln(stdout, RenderField("Time remaining", session.FormatCountdown(res.TimeRemaining)))
	}
	if !res.LastAccessed.IsZero() {
		fmt.Fprintln(stdout, RenderField("Last accessed", res.LastAccessed.Local().Format("2006-01-02 15:04:05")))
	}
	return nil
}

// RefreshData is the JSON form of the refresh command.
type RefreshData struct {
	Refreshed bool   `json:"refreshed"`
	Timeout   *int64 `json:"timeout,omitempty"`
}

// HandleRefresh extends the stored session on the server.
func HandleRefresh(ctx context.Context, args Args) error {
	e, err := setup(ctx, args)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.requireLogin(); err != nil {
		return err
	}

	res, err := e.client.Refresh(ctx)
	if err != nil {
		return &CommandError{Command: "refresh", Err: err}
	}
	data := RefreshData{Refreshed: true}
	if res.Timeout > 0 {
		if err := e.store.SaveTimeout(ctx, res.Timeout); err != nil {
			slog.Warn("HINT_SAVE_FAILED", "error", err)
		}
		secs := int64(res.Timeout / time.Second)
		data.Timeout = &secs
	}

	if args.JSON {
		return NewJSONResponse("refresh", data).Print(stdout)
	}
	fmt.Fprintln(stdout, styles.RenderSuccess("Session refreshed"))
	if res.Timeout > 0 {
		fmt.Fprintln(stdout, RenderField("Time remaining", session.FormatCountdown(res.Timeout)))
	}
	return nil
}

// HandleInfo prints the server's view of the session.
func HandleInfo(ctx context.Context, args Args) error {
	e, err := setup(ctx, args)
	if err != nil {
		return err
	}
	defer e.Close()

	info, err := e.client.Info(ctx)
	if err != nil {
		return &CommandError{Command: "info", Err: err}
	}
	if args.JSON {
		return NewJSONResponse("info", info).Print(stdout)
	}

	fmt.Fprintln(stdout, TitleStyle.Render("Session"))
	if !info.Active {
		fmt.Fprintln(stdout, RenderField("Active", "no"))
		return nil
	}
	fmt.Fprintln(stdout, RenderField("Active", "yes"))
	fmt.Fprintln(stdout, RenderField("User", info.Username))
	fmt.Fprintln(stdout, RenderField("Session ID", info.SessionID))
	fmt.Fprintln(stdout, RenderField("Idle timeout", (time.Duration(info.MaxInactiveInterval)*time.Second).String()))
	if !info.CreatedAt.IsZero() {
		fmt.Fprintln(stdout, RenderField("Created", info.CreatedAt.Local().Format("2006-01-02 15:04:05")))
	}
	if !info.LastAccessedAt.IsZero() {
		fmt.Fprintln(stdout, RenderField("Last accessed", info.LastAccessedAt.Local().Format("2006-01-02 15:04:05")))
	}
	return nil
}

// HandleLogout invalidates the session and forgets the cookie. The local
// state is cleared even when the server cannot be reached.
func HandleLogout(ctx context.Context, args Args) error {
	e, err := setup(ctx, args)
	if err != nil {
		return err
	}
	defer e.Close()

	invalidated := false
	if e.client.SessionCookie() != "" {
		if err := e.client.Invalidate(ctx); err != nil {
			slog.Warn("SESSION_INVALIDATE_FAILED", "error", err)
		} else {
			invalidated = true
		}
	}
	if err := e.store.ClearSession(ctx); err != nil {
		return &CommandError{Command: "logout", Err: err}
	}

	if args.JSON {
		return NewJSONResponse("logout", map[string]bool{"invalidated": invalidated}).Print(stdout)
	}
	fmt.Fprintln(stdout, styles.RenderSuccess("Logged out"))
	return nil
}

// LoginData is the JSON form of the login command.
type LoginData struct {
	Username    string `json:"username"`
	RedirectURL string `json:"redirectUrl,omitempty"`
	ReturnTo    string `json:"returnTo,omitempty"`
}

// HandleLogin signs in, stores the session cookie and reports the page
// stashed by the last expiry, if any.
func HandleLogin(ctx context.Context, args Args) error {
	p := NewArgParserBool(args.Raw, "password-stdin")

	e, err := setup(ctx, args)
	if err != nil {
		return err
	}
	defer e.Close()

	username := strings.TrimSpace(p.Flag("user"))
	if username == "" {
		if p.BoolFlag("password-stdin") {
			return &UsageError{Command: "login", Reason: "--password-stdin requires --user"}
		}
		if username, err = promptUsername(); err != nil {
			return err
		}
	}
	if username == "" {
		return &UsageError{Command: "login", Reason: "username is required"}
	}

	var password string
	switch {
	case p.BoolFlag("password-stdin"):
		password, err = readLine()
	case !IsTTY():
		return &TTYRequiredError{Operation: "prompt for a password (use --password-stdin)"}
	default:
		password, err = readPassword("Password: ")
	}
	if err != nil {
		return err
	}

	res, err := e.client.Login(ctx, username, password)
	if err != nil {
		return &CommandError{Command: "login", Err: err}
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "login rejected"
		}
		return &CommandError{Command: "login", Err: fmt.Errorf("%w: %s", session.ErrUnauthenticated, msg)}
	}

	cookie := e.client.SessionCookie()
	if cookie == "" {
		return &CommandError{Command: "login", Err: errors.New("server did not set a session cookie")}
	}
	if err := e.store.SaveSessionCookie(ctx, cookie); err != nil {
		return &CommandError{Command: "login", Err: err}
	}

	returnTo, ok, err := e.store.TakeRedirect(ctx)
	if err != nil {
		slog.Warn("REDIRECT_READ_FAILED", "error", err)
	}
	slog.Info("LOGIN_OK", "username", username, "restore", ok)

	if args.JSON {
		return NewJSONResponse("login", LoginData{
			Username:    username,
			RedirectURL: res.RedirectURL,
			ReturnTo:    returnTo,
		}).Print(stdout)
	}
	fmt.Fprintln(stdout, styles.RenderSuccess("Logged in as "+username))
	if ok && returnTo != "" {
		fmt.Fprintln(stdout, "Your session expired. Returning to "+returnTo)
	}
	return nil
}
