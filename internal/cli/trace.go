package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/otaloop/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Transitions     []store.Transition     `json:"transitions"`
	DownloadErrors  []store.DownloadError  `json:"download_errors"`
	AppliedVersions []store.AppliedVersion `json:"applied_versions"`
	Stats           TraceStats             `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Transitions     int `json:"transitions"`
	DownloadErrors  int `json:"download_errors"`
	VersionsApplied int `json:"versions_applied"`
}

// String renders the human-readable trace report. The OutputFormatter
// picks this up in text mode; JSON mode serializes the struct instead.
func (r TraceResult) String() string {
	if len(r.Transitions) == 0 {
		return "No transitions recorded."
	}

	var b strings.Builder
	b.WriteString("Transitions:\n")
	for _, tr := range r.Transitions {
		fmt.Fprintf(&b, "  [%8dms] %s -> %s\n", tr.ElapsedMS, tr.FromState, tr.ToState)
	}
	if len(r.DownloadErrors) > 0 {
		b.WriteString("Download errors:\n")
		for _, e := range r.DownloadErrors {
			fmt.Fprintf(&b, "  [%8dms] %s\n", e.ElapsedMS, e.Reason)
		}
	}
	if len(r.AppliedVersions) > 0 {
		b.WriteString("Applied versions:\n")
		for _, v := range r.AppliedVersions {
			fmt.Fprintf(&b, "  [%8dms] version %d\n", v.ElapsedMS, v.Version)
		}
	}
	fmt.Fprintf(&b, "%d transitions, %d errors, %d versions applied",
		r.Stats.Transitions, r.Stats.DownloadErrors, r.Stats.VersionsApplied)
	return b.String()
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Print the recorded OTA trace",
		Long: `Print the state-transition trace recorded by a previous run.

The output includes:
- Transitions: every state change, with the loop's elapsed-ms
- Download errors: failed or aborted transfers
- Applied versions: successfully installed updates

Examples:
  otaloop trace --db ./ota.db
  otaloop trace --db ./ota.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	result := TraceResult{}
	if result.Transitions, err = st.Transitions(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read transitions", err)
	}
	if result.DownloadErrors, err = st.DownloadErrors(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read download errors", err)
	}
	if result.AppliedVersions, err = st.AppliedVersions(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read applied versions", err)
	}
	result.Stats = TraceStats{
		Transitions:     len(result.Transitions),
		DownloadErrors:  len(result.DownloadErrors),
		VersionsApplied: len(result.AppliedVersions),
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	return formatter.Success(result)
}
