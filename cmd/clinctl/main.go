package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/clinchain/clinledger/pkg/client"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	ledgerURL string
	token     string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clinctl",
	Short: "Clinical audit ledger CLI",
	Long: `clinctl is the command-line interface for the clinledger audit service.

It verifies hash chains, inspects record state and history, checks the
audit_id sequence for gaps, and fetches compliance reports.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.clinctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if ledgerURL == "" {
			ledgerURL = viper.GetString("ledger_url")
		}
		if ledgerURL == "" {
			ledgerURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.clinctl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&ledgerURL, "ledger", "", "ledger service URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token (or CLINCTL_TOKEN / config token)")

	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(gapsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(alcoaCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	return client.New(ledgerURL, token)
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <event_uuid>",
	Short: "Verify every hash-chain link of one record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventUUID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid event UUID %q: %w", args[0], err)
		}

		res, err := newClient().VerifyChain(context.Background(), eventUUID)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AUDIT_ID\tVALID\tDETAIL")
		for _, e := range res.Entries {
			fmt.Fprintf(w, "%d\t%t\t%s\n", e.AuditID, e.Valid, e.Detail)
		}
		if err := w.Flush(); err != nil {
			return err
		}

		if !res.Valid {
			return fmt.Errorf("chain verification FAILED for %s", eventUUID)
		}
		fmt.Printf("chain verified: %d entries intact\n", len(res.Entries))
		return nil
	},
}

// ── chain ────────────────────────────────────────────────────────────────────

var chainCmd = &cobra.Command{
	Use:   "chain <event_uuid>",
	Short: "Print the full entry chain of one record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventUUID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid event UUID %q: %w", args[0], err)
		}
		raw, err := newClient().Chain(context.Background(), eventUUID)
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

// ── state ────────────────────────────────────────────────────────────────────

var stateCmd = &cobra.Command{
	Use:   "state <event_uuid>",
	Short: "Print the current projected state of one record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventUUID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid event UUID %q: %w", args[0], err)
		}
		state, err := newClient().CurrentState(context.Background(), eventUUID)
		if err != nil {
			return err
		}
		out, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

// ── gaps ─────────────────────────────────────────────────────────────────────

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "Check the audit_id sequence for missing ranges",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := newClient().Gaps(context.Background())
		if err != nil {
			return err
		}
		if res.Intact {
			fmt.Println("sequence intact: no gaps")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "FROM\tTO")
		for _, g := range res.Gaps {
			fmt.Fprintf(w, "%d\t%d\n", g.From, g.To)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		return fmt.Errorf("sequence has %d gap range(s)", len(res.Gaps))
	},
}

// ── report ───────────────────────────────────────────────────────────────────

var (
	reportFrom string
	reportTo   string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Fetch the aggregate compliance report for a time range",
	Long: `Report fetches the regulatory compliance report covering entry
integrity, metadata completeness, and sequence continuity.

Times are RFC 3339; the default range is the last 24 hours:

  clinctl report --from 2026-08-01T00:00:00Z --to 2026-08-29T00:00:00Z`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, to, err := parseRange(reportFrom, reportTo)
		if err != nil {
			return err
		}
		raw, err := newClient().ComplianceReport(context.Background(), from, to)
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportFrom, "from", "", "range start, RFC 3339 (default 24h ago)")
	reportCmd.Flags().StringVar(&reportTo, "to", "", "range end, RFC 3339 (default now)")
}

// ── alcoa ────────────────────────────────────────────────────────────────────

var alcoaCmd = &cobra.Command{
	Use:   "alcoa <audit_id>",
	Short: "Validate one entry against the ALCOA+ principles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		auditID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || auditID <= 0 {
			return fmt.Errorf("audit_id must be a positive integer, got %q", args[0])
		}
		raw, err := newClient().ValidateALCOA(context.Background(), auditID)
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

// ── conflicts ────────────────────────────────────────────────────────────────

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "List conflict records visible to the caller",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := newClient().PendingConflicts(context.Background())
		if err != nil {
			return err
		}
		return printJSON(raw)
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the clinctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("clinctl", version)
	},
}

// ── helpers ──────────────────────────────────────────────────────────────────

func parseRange(fromStr, toStr string) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", fromStr, err)
		}
		from = t
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", toStr, err)
		}
		to = t
	}
	return from, to, nil
}

func printJSON(raw json.RawMessage) error {
	var buf any
	if err := json.Unmarshal(raw, &buf); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
