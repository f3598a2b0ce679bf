package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/agentauth/consentd/internal/config"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "migrate [up|down] [steps]",
		Short: "Aplica migraciones SQL (*_up.sql / *_down.sql)",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			steps := 0
			if len(args) >= 1 && args[0] != "" {
				action = strings.ToLower(args[0])
			}
			if len(args) >= 2 {
				if n, err := strconv.Atoi(args[1]); err == nil && n > 0 {
					steps = n
				}
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate requiere storage.driver postgres (actual: %s)", cfg.Storage.Driver)
			}

			ctx := cmd.Context()
			pool, err := pgxpool.New(ctx, cfg.Storage.DSN)
			if err != nil {
				return err
			}
			defer pool.Close()

			switch action {
			case "up":
				files, err := listSQL(dir, "_up.sql")
				if err != nil {
					return err
				}
				sort.Strings(files) // ascendente
				if steps > 0 && steps < len(files) {
					files = files[:steps]
				}
				return execAll(ctx, pool, files)

			case "down":
				files, err := listSQL(dir, "_down.sql")
				if err != nil {
					return err
				}
				sort.Sort(sort.Reverse(sort.StringSlice(files))) // más reciente primero
				if steps > 0 && steps < len(files) {
					files = files[:steps]
				}
				return execAll(ctx, pool, files)

			default:
				return fmt.Errorf("acción desconocida %q (up | down [steps])", action)
			}
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "migrations/postgres", "directorio de migraciones")
	return cmd
}

func listSQL(dir, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(strings.ToLower(e.Name()), suffix) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	return out, nil
}

func execAll(ctx context.Context, pool *pgxpool.Pool, files []string) error {
	if len(files) == 0 {
		fmt.Println("sin migraciones que aplicar")
		return nil
	}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		start := time.Now()
		if _, err := pool.Exec(ctx, string(b)); err != nil {
			return fmt.Errorf("exec %s: %w", f, err)
		}
		fmt.Printf("OK %s (%s)\n", filepath.Base(f), time.Since(start).Truncate(time.Millisecond))
	}
	return nil
}
