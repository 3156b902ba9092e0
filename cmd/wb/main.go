package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

const defaultConfigPath = "waybill.yaml"

func versionString() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wb",
		Short: "Waybill: chat broadcasts and payment reminders",
		Long: `Waybill sends personalized chat messages, product announcements and
payment reminders through a linked chat account.

Every command reads waybill.yaml from the working directory unless
--config points elsewhere.`,
		Version:       versionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")
	cmd.PersistentFlags().StringP("config", "c", defaultConfigPath, "path to Waybill config file")

	cmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newRemindCmd(),
		newRecordsCmd(),
		newDBCmd(),
	)
	return cmd
}

// configFlag returns the --config value inherited from the root command.
func configFlag(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil {
		return f.Value.String()
	}
	return defaultConfigPath
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "wb "+versionString())
		},
	}
}

// execute runs cmd and reports a failure on stderr; the root silences
// cobra's own error print so each error appears once.
func execute(cmd *cobra.Command, stderr io.Writer) int {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(stderr, "wb: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd(), os.Stderr))
}
