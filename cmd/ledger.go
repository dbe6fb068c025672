package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/followup/internal/config"
	"github.com/nextlevelbuilder/followup/internal/store"
	"github.com/nextlevelbuilder/followup/internal/store/pg"
	"github.com/nextlevelbuilder/followup/internal/store/sqlite"
)

// storeConfig derives the ledger backend from cfg and the CLI overrides.
func storeConfig(cfg *config.Config, dbPath, dsn string) store.StoreConfig {
	sc := store.StoreConfig{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		SQLitePath:  cfg.LedgerPath(),
		PostgresDSN: cfg.Database.PostgresDSN,
	}
	if dbPath != "" {
		sc.Driver = "sqlite"
		sc.SQLitePath = config.ExpandHome(dbPath)
	}
	if dsn != "" {
		sc.Driver = "postgres"
		sc.PostgresDSN = dsn
	}
	if sc.Driver == "" {
		sc.Driver = "sqlite"
	}
	return sc
}

func openLedger(ctx context.Context, sc store.StoreConfig) (store.DispatchStore, error) {
	switch sc.Driver {
	case "postgres", "pg":
		if sc.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres ledger requires FOLLOWUP_POSTGRES_DSN or --postgres-dsn")
		}
		st, err := pg.NewPGDispatchStore(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case "sqlite":
		st, err := sqlite.Open(ctx, sc.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", sc.Driver)
	}
}

func ledgerCmd() *cobra.Command {
	var (
		dbPath  string
		dsn     string
		session string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show recorded dispatches",
		Long:  "Without --session, prints dispatch counts by status. With --session, lists that session's dispatches, newest first.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := cmd.Context()
			st, err := openLedger(ctx, storeConfig(cfg, dbPath, dsn))
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			if session == "" {
				counts, err := st.CountByStatus(ctx)
				if err != nil {
					return err
				}
				printCounts(out, counts)
				return nil
			}

			recs, err := st.ListBySession(ctx, strings.ToLower(strings.TrimSpace(session)), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DISPATCHED\tSTATUS\tCHANNEL\tTO\tITEMS\tPROMPT")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					r.DispatchedAt.Format("2006-01-02 15:04:05"), r.Status, r.Channel, r.Recipient, r.ItemCount, firstLine(r.Prompt))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite ledger path (default from config)")
	cmd.Flags().StringVar(&dsn, "postgres-dsn", "", "use a Postgres ledger")
	cmd.Flags().StringVar(&session, "session", "", "session key to list")
	cmd.Flags().IntVar(&limit, "limit", 20, "max records to list (0 = all)")
	return cmd
}

func printCounts(w io.Writer, counts map[string]int) {
	statuses := make([]string, 0, len(counts))
	for s := range counts {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	if len(statuses) == 0 {
		fmt.Fprintln(w, "ledger: no dispatches recorded")
		return
	}
	for _, s := range statuses {
		fmt.Fprintf(w, "%-10s %d\n", s, counts[s])
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}
