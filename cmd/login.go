package cmd

import (
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"

	"qwenauth/internal/oauth"
	"qwenauth/pkg/logging"
)

var loginNoBrowser bool

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate to Qwen via the device-code flow",
		Long: `Starts the OAuth 2.0 device-code flow: prints a verification URL and
user code, opens the browser when possible, and waits for approval.
The resulting token is persisted and kept fresh by later commands.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
	cmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "do not try to open the verification URL in a browser")
	return cmd
}

// spinnerProgress adapts the terminal spinner to the login flow.
type spinnerProgress struct {
	s *spinner.Spinner
}

func newSpinnerProgress() *spinnerProgress {
	return &spinnerProgress{s: spinner.New(spinner.CharSets[14], 100*time.Millisecond)}
}

func (p *spinnerProgress) Update(message string) {
	p.s.Suffix = " " + message
	if !p.s.Active() {
		p.s.Start()
	}
}

func (p *spinnerProgress) Stop(message string) {
	p.s.FinalMSG = message + "\n"
	p.s.Stop()
}

// openBrowser opens url with the platform launcher. Errors are returned
// so the caller can decide how loudly to fail; the login flow ignores
// them.
func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	opts := oauth.LoginOptions{
		Notify: func(message string) {
			fmt.Fprintln(cmd.OutOrStdout(), message)
		},
		Progress: newSpinnerProgress(),
	}
	if !loginNoBrowser {
		opts.OpenURL = openBrowser
	}

	token, err := newOAuthClient(cfg).Login(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if err := store.Save(cmd.Context(), token); err != nil {
		return fmt.Errorf("authenticated but failed to persist token: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Logged in. Access token %s expires %s.\n",
		logging.TruncateSecret(token.AccessToken),
		time.UnixMilli(token.ExpiresAt).Format(time.RFC3339))
	return nil
}
