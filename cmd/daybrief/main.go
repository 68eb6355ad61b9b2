package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"daybrief/internal/config"
	appLog "daybrief/internal/log"
)

var (
	// Global flags
	configPath string
	envFile    string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "daybrief",
	Short: "Calendar and weather briefings from a language model",
	Long: `daybrief reads your upcoming calendar events and the current weather,
asks a language model for a short briefing, and turns free-text requests
into proposed calendar events.

Run "daybrief auth" once to connect a Google calendar.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			appLog.SetLevel(appLog.LevelDebug)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		appLog.Sync()
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print a briefing of upcoming events and the current weather",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

var addCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Propose a calendar event from a free-text request",
	Long: `Sends the request together with the upcoming events to the model and
prints the proposed slot. With --commit the event is written to the calendar.

Example:
  daybrief add "Dentist next Tuesday afternoon" --commit`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refetch events and weather, reporting each source that fails",
	Args:  cobra.NoArgs,
	RunE:  runRefresh,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and refresh the caches on a cron schedule",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize access to a Google calendar",
	Long: `Runs the OAuth consent flow for the Google calendar provider: open the
printed URL, grant access, then paste the code shown by Google. The token is
stored at calendar.token_path.`,
	Args: cobra.NoArgs,
	RunE: runAuth,
}

var (
	addCommit    bool
	serveListen  string
	serveNoCron  bool
	authCodeFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file with API keys (missing file is ignored)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	addCmd.Flags().BoolVar(&addCommit, "commit", false, "Write the proposed event to the calendar")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides config if set)")
	serveCmd.Flags().BoolVar(&serveNoCron, "no-cron", false, "Disable the scheduled background refresh")
	authCmd.Flags().StringVar(&authCodeFlag, "code", "", "Authorization code (skips the interactive prompt)")

	rootCmd.AddCommand(summaryCmd, addCmd, refreshCmd, serveCmd, authCmd)
}

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
