package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the otaloop CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

func newRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "otaloop",
		Short: "OTA requestor on a single-writer event loop",
		Long:  "Runs a simulated OTA update session and inspects its recorded traces.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd, opts
}

// Execute runs the CLI and returns the process exit code. Failures are
// reported on stderr through the OutputFormatter, so --format json yields
// a machine-readable error object.
func Execute() int {
	return execute(os.Args[1:], os.Stdout, os.Stderr)
}

func execute(args []string, out, errOut io.Writer) int {
	cmd, opts := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	if err := cmd.Execute(); err != nil {
		code := GetExitCode(err)
		formatter := &OutputFormatter{Format: opts.Format, Writer: errOut}
		_ = formatter.Error(exitCodeLabel(code), err.Error())
		return code
	}
	return ExitSuccess
}

// exitCodeLabel names an exit code for formatted error output.
func exitCodeLabel(code int) string {
	if code == ExitCommandError {
		return "COMMAND_ERROR"
	}
	return "FAILURE"
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
