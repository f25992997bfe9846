package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/NetClaw/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"  _   _      _    ____ _\n" +
		" | \\ | | ___| |_ / ___| | __ ___      __\n" +
		" |  \\| |/ _ \\ __| |   | |/ _` \\ \\ /\\ / /\n" +
		" | |\\  |  __/ |_| |___| | (_| |\\ V  V /\n" +
		" |_| \\_|\\___|\\__|\\____|_|\\__,_| \\_/\\_/\n"
)

var logLevelFlag string

var rootCmd = &cobra.Command{
	Use:           "netclaw",
	Short:         "NetClaw - conversational network operations",
	Long:          color.CyanString(logo) + "\nAsk questions about your network and run changes behind confirmation.",
	SilenceUsage:  true,
	SilenceErrors: false,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level (debug, info, warn, error); overrides LOG_LEVEL")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(doctorCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(classifyCmd)
	rootCmd.AddCommand(actionsCmd)
}

// setupLogging installs a JSON slog handler at the requested level. The flag
// wins over the configured level.
func setupLogging(configured string) {
	level := configured
	if strings.TrimSpace(logLevelFlag) != "" {
		level = logLevelFlag
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(level)})))
}

func parseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}
