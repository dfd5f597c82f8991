package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/pdfjson/internal/ir"
	"github.com/roach88/pdfjson/internal/queryir"
	"github.com/roach88/pdfjson/internal/store"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Database string
	Session  string
	Where    []string
	Limit    int
}

// SessionReport is the output of `journal --session`.
type SessionReport struct {
	Session     string                `json:"session"`
	Summary     store.Summary         `json:"summary"`
	Conversions []ir.ConversionRecord `json:"conversions"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the conversion journal",
		Long: `List the sessions recorded in a conversion journal, or the conversions of
one session with a summary of their outcomes.

With --where, list the conversions of every session (or of --session) that
match all the given filters. A filter is field=value or field>=n over the
conversion columns.

The journal is only kept across runs when it is a file; set "journal" in
the config or pass --db.

Examples:
  pdfjson journal --db ./pdfjson.db
  pdfjson journal --db ./pdfjson.db --session 0190c1d2-...
  pdfjson journal --db ./pdfjson.db --where direction=to_binary --where exit_code=2`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal database (default from config)")
	cmd.Flags().StringVar(&opts.Session, "session", "", "show one session's conversions")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "filter conversions by field=value or field>=n (repeatable)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum conversions listed with --where (0 for no limit)")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	filter, err := opts.filter()
	if err != nil {
		return err
	}

	path := opts.Database
	if path == "" {
		cfg, err := opts.Config()
		if err != nil {
			return err
		}
		path = cfg.Journal
	}
	if path == store.MemoryDSN {
		return NewExitError(ExitCommandError, "journal is in-memory; pass --db or set journal in the config")
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", path))
	}

	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	if len(opts.Where) > 0 {
		records, err := st.QueryConversions(ctx, filter, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to query conversions", err)
		}
		if opts.Format == "json" {
			return writeJSON(w, CLIResponse{Status: "ok", Data: records})
		}
		if len(records) == 0 {
			fmt.Fprintln(w, "No matching conversions.")
			return nil
		}
		fmt.Fprintf(w, "%d matching conversions\n", len(records))
		writeRecords(w, records)
		return nil
	}

	if opts.Session == "" {
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
		if opts.Format == "json" {
			return writeJSON(w, CLIResponse{Status: "ok", Data: sessions})
		}
		if len(sessions) == 0 {
			fmt.Fprintln(w, "No sessions recorded.")
			return nil
		}
		for _, s := range sessions {
			fmt.Fprintf(w, "%s  engine=%s  conversions=%d\n", s.ID, s.EngineVersion, s.Conversions)
		}
		return nil
	}

	records, err := st.ListConversions(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list conversions", err)
	}
	summary, err := st.Summarize(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to summarize session", err)
	}

	if opts.Format == "json" {
		return writeJSON(w, CLIResponse{Status: "ok", Data: SessionReport{
			Session:     opts.Session,
			Summary:     summary,
			Conversions: records,
		}})
	}

	fmt.Fprintf(w, "Session %s: %d conversions\n", opts.Session, summary.Total)
	writeRecords(w, records)
	return nil
}

// filter builds the --where predicate, scoped to --session when set.
func (opts *JournalOptions) filter() (queryir.Predicate, error) {
	if opts.Limit < 0 {
		return nil, NewExitError(ExitCommandError, "--limit must not be negative")
	}
	preds := make([]queryir.Predicate, 0, len(opts.Where)+1)
	if opts.Session != "" {
		preds = append(preds, queryir.Equals{Field: "session_id", Value: opts.Session})
	}
	for _, expr := range opts.Where {
		p, err := queryir.ParseWhere("conversions", expr)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --where", err)
		}
		preds = append(preds, p)
	}
	return queryir.Conj(preds...), nil
}

func writeRecords(w io.Writer, records []ir.ConversionRecord) {
	for _, rec := range records {
		line := fmt.Sprintf("  #%d %-13s %-26s %d -> %d bytes", rec.Seq, rec.Direction, rec.Outcome, rec.InputBytes, rec.OutputBytes)
		if rec.ExitCode != 0 {
			line += fmt.Sprintf(" (exit %d)", rec.ExitCode)
		}
		fmt.Fprintln(w, line)
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
