package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/SteelWatch/internal/anomaly"
	"github.com/jmerrifield20/SteelWatch/internal/app"
	"github.com/jmerrifield20/SteelWatch/internal/db"
	"github.com/jmerrifield20/SteelWatch/internal/identity"
	"github.com/jmerrifield20/SteelWatch/internal/ledger"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile string
	verbose bool
	format  string

	v      = viper.New()
	logger = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swctl",
	Short: "SteelWatch operator CLI",
	Long: `swctl runs operator tasks against a SteelWatch database: schema
migrations, ledger verification and repair, one-off anomaly scans and admin
token issuance.

Configuration is read from steelwatch.yaml (configs/ or the working
directory) and environment variables such as DATABASE_URL.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			logger = l
		}
		if cfgFile != "" {
			v.SetConfigFile(cfgFile)
		}
		return app.ReadConfig(v, logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default configs/steelwatch.yaml)")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string (overrides database.url)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output and development logging")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "Output format: text or json")
	_ = v.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url"))

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd, verifyCmd, repairCmd, scanCmd, appendCmd, blocksCmd, tokenCmd, versionCmd)
}

// commandContext returns a context cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// openApp loads configuration and wires the Postgres-backed layers. Schema
// changes are left to the migrate command.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := app.LoadConfig(v)
	if err != nil {
		return nil, err
	}
	cfg.Database.MigrateOnStart = false
	return app.Open(ctx, cfg, logger)
}

func printJSON(val any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(val)
}

// ── migrate ──────────────────────────────────────────────────────────────────

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

func withConfig(fn func(ctx context.Context, cfg *app.Config) error) error {
	cfg, err := app.LoadConfig(v)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()
	return fn(ctx, cfg)
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(func(ctx context.Context, cfg *app.Config) error {
			pool, err := db.Open(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			ver, err := db.Version(ctx, pool)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", ver)
			return nil
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(func(ctx context.Context, cfg *app.Config) error {
			pool, err := db.Open(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Rollback(ctx, pool); err != nil {
				return err
			}
			ver, err := db.Version(ctx, pool)
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d\n", ver)
			return nil
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withConfig(func(ctx context.Context, cfg *app.Config) error {
			pool, err := db.Open(ctx, cfg.Database.URL)
			if err != nil {
				return err
			}
			defer pool.Close()
			ver, err := db.Version(ctx, pool)
			if err != nil {
				return err
			}
			fmt.Println(ver)
			return nil
		})
	},
}

// ── verify / repair ──────────────────────────────────────────────────────────

var errLedgerInvalid = errors.New("ledger integrity check failed")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the event ledger's hash chain",
	Long: `verify walks the ledger from the genesis block and reports every chain
break and hash mismatch. It exits non-zero when the ledger is invalid.

Pass --verbose to print every block with its seal and link status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Ledger.Verify(ctx)
		if err != nil {
			return err
		}
		if verbose {
			blocks, err := a.Ledger.Blocks(ctx)
			if err != nil {
				return err
			}
			if err := printBlockStatus(blocks); err != nil {
				return err
			}
		}
		if err := printReport(report); err != nil {
			return err
		}
		if !report.Valid {
			return errLedgerInvalid
		}
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Recompute every hash and relink the ledger",
	Long: `repair rebuilds the chain in block order inside a single transaction.
Payloads are kept as stored, so a tampered payload is re-sealed rather than
restored. Run verify first and keep its output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Ledger.Repair(ctx)
		if err != nil {
			return err
		}
		return printReport(report)
	},
}

func printReport(r *ledger.Report) error {
	if format == "json" {
		return printJSON(r)
	}
	if r.Valid {
		fmt.Printf("ledger valid: %d block(s)\n", r.Total)
		return nil
	}
	fmt.Printf("ledger INVALID: %d block(s), %d issue(s)\n", r.Total, len(r.Issues))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK\tISSUE")
	for _, is := range r.Issues {
		fmt.Fprintf(w, "%d\t%s\n", is.BlockID, is.Kind)
	}
	return w.Flush()
}

func printBlockStatus(blocks []*ledger.Block) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSEALED\tLINKED\tHASH\tPAYLOAD")
	prev := ledger.Sentinel
	for _, b := range blocks {
		fmt.Fprintf(w, "%d\t%t\t%t\t%s\t%s\n", b.ID, b.Sealed(), b.PrevHash == prev, short(b.Hash), b.Payload)
		prev = b.Hash
	}
	return w.Flush()
}

func short(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

// ── blocks / append ──────────────────────────────────────────────────────────

var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "List ledger blocks in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		blocks, err := a.Ledger.Blocks(ctx)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(blocks)
		}
		return printBlockStatus(blocks)
	},
}

var appendPerformanceRef int64

var appendCmd = &cobra.Command{
	Use:   "append <payload>",
	Short: "Append one event to the ledger",
	Example: `  swctl append "MACHINE_ADDED|ID=7|Name=Caster 2"
  swctl append --performance-id 42 "PERFORMANCE_ADDED|ID=42"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		var ref *int64
		if cmd.Flags().Changed("performance-id") {
			ref = &appendPerformanceRef
		}
		b, err := a.Ledger.Append(ctx, args[0], ref)
		if err != nil {
			return err
		}
		if format == "json" {
			return printJSON(b)
		}
		fmt.Printf("Block:     %d\n", b.ID)
		fmt.Printf("Hash:      %s\n", b.Hash)
		fmt.Printf("Prev Hash: %s\n", b.PrevHash)
		return nil
	},
}

func init() {
	appendCmd.Flags().Int64Var(&appendPerformanceRef, "performance-id", 0, "Performance record this event refers to")
}

// ── scan ─────────────────────────────────────────────────────────────────────

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one anomaly scan now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Scanner.Scan(ctx)
		if res != nil {
			if perr := printScan(res); perr != nil {
				return perr
			}
		}
		if errors.Is(err, anomaly.ErrScoringUnavailable) {
			fmt.Fprintln(os.Stderr, "warning: scoring unavailable; nothing was changed")
		}
		return err
	},
}

func printScan(res *anomaly.Result) error {
	if format == "json" {
		return printJSON(res)
	}
	if res.Skipped {
		fmt.Printf("skipped: only %d record(s)\n", res.RecordsScanned)
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Scan:\t%s\n", res.ScanID)
	fmt.Fprintf(w, "Records scanned:\t%d\n", res.RecordsScanned)
	fmt.Fprintf(w, "Anomalies:\t%d\n", res.AnomaliesFound)
	fmt.Fprintf(w, "Alerts:\t%d created, %d suppressed\n", res.AlertsCreated, res.AlertsSuppressed)
	fmt.Fprintf(w, "Tickets:\t%d created, %d suppressed\n", res.TicketsCreated, res.TicketsSuppressed)
	fmt.Fprintf(w, "Blocks appended:\t%d\n", res.BlocksAppended)
	if res.AuditFailures > 0 {
		fmt.Fprintf(w, "Audit failures:\t%d\n", res.AuditFailures)
	}
	return w.Flush()
}

// ── token ────────────────────────────────────────────────────────────────────

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue an admin bearer token",
	Long: `token signs an admin token with auth.admin_secret. Send it as
"Authorization: Bearer <token>" to the mutating API routes.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := app.LoadConfig(v)
		if err != nil {
			return err
		}
		if cfg.Auth.AdminSecret == "" {
			return errors.New("auth.admin_secret is not set")
		}
		tokens, err := identity.NewAdminTokens(cfg.Auth.AdminSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		tok, err := tokens.Issue(args[0])
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the swctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("swctl %s (SteelWatch)\n", version)
	},
}
