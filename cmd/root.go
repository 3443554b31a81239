package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"qwenauth/internal/oauth"
	"qwenauth/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeAuthRequired indicates no stored credentials were found.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed indicates the OAuth flow failed.
	ExitCodeAuthFailed = 3
)

// Persistent flags shared by all subcommands.
var (
	rootConfigPath string
	rootDebug      bool
)

// rootCmd is the base command for the qwenauth binary.
var rootCmd = &cobra.Command{
	Use:   "qwenauth",
	Short: "Qwen OAuth device-flow authentication and token lifecycle",
	Long: `qwenauth obtains and maintains Qwen API credentials through the
OAuth 2.0 device-code flow. It can log in interactively from the
terminal, keep tokens fresh in the background, and serve the flow to
browsers over HTTP.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logging.ParseLevel(os.Getenv("QWENAUTH_LOG_LEVEL"))
		if rootDebug {
			level = logging.LevelDebug
		}
		logging.Init(level, os.Stderr)
	},
}

// SetVersion sets the version for the root command. Called from main
// with the build-time version.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute runs the CLI. Called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "qwenauth version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error types to semantic exit codes for scripting.
func getExitCode(err error) int {
	if errors.Is(err, oauth.ErrTokenNotAvailable) {
		return ExitCodeAuthRequired
	}

	var protoErr *oauth.ProtocolError
	if errors.As(err, &protoErr) {
		return ExitCodeAuthFailed
	}
	if errors.Is(err, oauth.ErrRefreshTokenInvalid) {
		return ExitCodeAuthFailed
	}

	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
