package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/vaishaligoyal05/awaaz-e-punjab/internal/mgnrega"
)

var (
	statusLimit  int
	statusOutput string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent sync attempts",
	Long:  "Lists the newest entries of the sync ledger.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("status"); err != nil {
			return err
		}
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		attempts, err := st.ListAttempts(ctx, statusLimit)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		if len(attempts) == 0 && statusOutput == "table" {
			zap.L().Info("no sync attempts recorded, run 'sync' to start syncing")
			return nil
		}

		return writeAttempts(os.Stdout, attempts, statusOutput)
	},
}

// statusEntry is the serialized form of one ledger entry.
type statusEntry struct {
	ID         int64     `json:"id" yaml:"id"`
	RunID      string    `json:"run_id" yaml:"run_id"`
	Trigger    string    `json:"trigger" yaml:"trigger"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`
	Success    bool      `json:"success" yaml:"success"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	Fetched    int       `json:"fetched" yaml:"fetched"`
	Upserted   int       `json:"upserted" yaml:"upserted"`
	Failed     int       `json:"failed" yaml:"failed"`
}

// writeAttempts renders attempts to out as a table, JSON or YAML.
func writeAttempts(out io.Writer, attempts []mgnrega.SyncAttempt, format string) error {
	switch format {
	case "table", "":
		formatAttempts(out, attempts)
		return nil
	case "json", "yaml":
	default:
		return eris.Errorf("status: unknown output format %q", format)
	}

	entries := make([]statusEntry, len(attempts))
	for i, a := range attempts {
		entries[i] = statusEntry(a)
	}
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(entries), "status: encode json")
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(entries); err != nil {
		return eris.Wrap(err, "status: encode yaml")
	}
	return eris.Wrap(enc.Close(), "status: encode yaml")
}

// formatAttempts writes a tabular representation of attempts to out.
func formatAttempts(out io.Writer, attempts []mgnrega.SyncAttempt) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTRIGGER\tSTATUS\tSTARTED\tDURATION\tFETCHED\tUPSERTED\tFAILED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t-------\t--------\t-------\t--------\t------\t-----")

	for _, a := range attempts {
		status := "ok"
		if !a.Success {
			status = "failed"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			a.ID,
			a.Trigger,
			status,
			a.StartedAt.Format("2006-01-02 15:04"),
			a.FinishedAt.Sub(a.StartedAt).Round(time.Second),
			a.Fetched,
			a.Upserted,
			a.Failed,
			truncate(a.Error, 60),
		)
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of attempts to show")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.AddCommand(statusCmd)
}
