package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/vidpub/internal/auth"
	"github.com/tonimelisma/vidpub/internal/credstore"
)

// Keys cached next to the token by login and read back by status.
const (
	metaChannelID    = "channel_id"
	metaChannelTitle = "channel_title"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with YouTube in the browser",
		Long: `Authenticate with YouTube using the OAuth2 authorization code flow.

By default a temporary server on 127.0.0.1 receives the browser redirect.
With --wait, no server is started: the command waits for a login completed
elsewhere (for example through "vidpub serve" at /api/auth/login) to write the
shared token file.`,
		RunE: runLogin,
	}

	cmd.Flags().Bool("force", false, "log in again even if already authenticated")
	cmd.Flags().Bool("wait", false, "wait for a login completed by another process")
	cmd.Flags().Bool("no-browser", false, "print the authorization URL instead of opening a browser")
	cmd.Flags().Duration("timeout", 0, "how long to wait for the login (default from auth.login_timeout)")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved authentication token",
		RunE:  runLogout,
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the authentication state",
		RunE:  runStatus,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated channel",
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	logger := cc.Logger

	if err := requireClient(cc.Cfg); err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	wait, _ := cmd.Flags().GetBool("wait")
	noBrowser, _ := cmd.Flags().GetBool("no-browser")

	timeout, _ := cmd.Flags().GetDuration("timeout")
	if timeout <= 0 {
		timeout = cc.Cfg.LoginTimeout
	}

	mgr, store := newAuthManager(cc)

	st, err := mgr.State()
	if err != nil {
		return err
	}

	if st.Authenticated && !force {
		cc.Statusf("Already logged in. Use --force to log in again.\n")
		return nil
	}

	ctx := shutdownContext(cmd.Context(), logger)

	if wait {
		cc.Statusf("Waiting up to %s for the login to complete...\n", timeout)

		if !auth.NewPoller(mgr, cc.Cfg.PollInterval, logger).AwaitLogin(ctx, timeout) {
			return fmt.Errorf("login did not complete within %s", timeout)
		}
	} else {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		open := openBrowser
		if noBrowser {
			open = func(string) error { return fmt.Errorf("browser disabled") }
		}

		if _, err := mgr.LoginWithBrowser(ctx, open, func(url string) {
			// The URL must always be visible, not suppressed by --quiet.
			fmt.Fprintf(os.Stderr, "Open this URL in your browser to sign in:\n\n  %s\n\n", url)
		}); err != nil {
			return err
		}
	}

	logger.Info("login successful")
	cacheChannel(ctx, cc, mgr, store)
	cc.Statusf("Login successful.\n")

	return nil
}

// cacheChannel stores the channel identity next to the token so status can
// show it offline. Best effort: the login already succeeded.
func cacheChannel(ctx context.Context, cc *CLIContext, mgr *auth.Manager, store *credstore.FileStore) {
	api, err := newDataAPI(ctx, cc, mgr)
	if err != nil {
		cc.Logger.Warn("creating data API client failed", slog.String("error", err.Error()))
		return
	}

	ch, err := api.Channel(ctx)
	if err != nil {
		cc.Logger.Warn("reading channel failed", slog.String("error", err.Error()))
		return
	}

	if err := store.MergeMeta(map[string]string{metaChannelID: ch.ID, metaChannelTitle: ch.Title}); err != nil {
		cc.Logger.Warn("caching channel failed", slog.String("error", err.Error()))
	}
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	mgr, store := newAuthManager(cc)

	if err := mgr.Logout(); err != nil {
		return err
	}

	cc.Logger.Info("logout successful", slog.String("token_file", store.Path()))
	cc.Statusf("Logged out.\n")

	return nil
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	Authenticated bool       `json:"authenticated"`
	Expired       bool       `json:"expired,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	TokenFile     string     `json:"token_file"`
	ChannelID     string     `json:"channel_id,omitempty"`
	ChannelTitle  string     `json:"channel_title,omitempty"`
	ServerPID     int        `json:"server_pid,omitempty"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	mgr, store := newAuthManager(cc)

	st, err := mgr.State()
	if err != nil {
		return err
	}

	out := statusOutput{
		Authenticated: st.Authenticated,
		Expired:       st.Stored && !st.Authenticated,
		TokenFile:     store.Path(),
		ServerPID:     runningServer(servePIDPath(cc.Cfg.HistoryPath)),
	}
	if st.Authenticated {
		exp := st.ExpiresAt
		out.ExpiresAt = &exp

		meta, err := store.Meta()
		if err != nil {
			cc.Logger.Warn("reading cached channel failed", slog.String("error", err.Error()))
		}

		out.ChannelID = meta[metaChannelID]
		out.ChannelTitle = meta[metaChannelTitle]
	}

	if cc.Flags.JSON {
		return printJSON(out)
	}

	printStatusText(out)

	return nil
}

func printStatusText(out statusOutput) {
	if out.ServerPID > 0 {
		fmt.Printf("API server running (PID %d)\n", out.ServerPID)
	}

	if out.Expired {
		fmt.Printf("Session expired (token file: %s)\n", out.TokenFile)
		fmt.Println("The next command refreshes it; run 'vidpub login' if that fails.")

		return
	}

	if !out.Authenticated {
		fmt.Printf("Not logged in (token file: %s)\n", out.TokenFile)
		fmt.Println("Run 'vidpub login' to authenticate.")

		return
	}

	fmt.Println("Logged in")

	if out.ChannelTitle != "" {
		fmt.Printf("  Channel:    %s (%s)\n", out.ChannelTitle, out.ChannelID)
	}

	fmt.Printf("  Expires:    %s\n", out.ExpiresAt.Local().Format(time.RFC1123))
	fmt.Printf("  Token file: %s\n", out.TokenFile)
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	mgr, _ := newAuthManager(cc)

	api, err := newDataAPI(ctx, cc, mgr)
	if err != nil {
		return err
	}

	ch, err := api.Channel(ctx)
	if err != nil {
		return fmt.Errorf("reading channel: %w", err)
	}

	if cc.Flags.JSON {
		return printJSON(ch)
	}

	fmt.Printf("Channel: %s\n", ch.Title)
	fmt.Printf("ID:      %s\n", ch.ID)

	return nil
}

// openBrowser opens url with the platform's default handler.
func openBrowser(url string) error {
	var name string

	switch runtime.GOOS {
	case "darwin":
		name = "open"
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		name = "xdg-open"
	}

	return exec.Command(name, url).Start() //nolint:gosec // url comes from our own OAuth config
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}
