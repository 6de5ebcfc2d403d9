package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/djedi/piecework/internal/backup"
	"github.com/djedi/piecework/internal/config"
	"github.com/djedi/piecework/internal/export"
	"github.com/djedi/piecework/internal/store"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy the store file out or replace it from a copy",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "export [FILE]",
		Short: "Write a byte copy of the store to FILE (default <product>_backup_<time>.db)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			dest := backup.DefaultFileName(a.cfg.Product, time.Now())
			if len(args) == 1 {
				dest = args[0]
			}
			desc, err := newBackupManager(a).ExportFile(cmd.Context(), dest)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", dest, desc)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import FILE",
		Short: "Replace the store with the backup in FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			desc, err := newBackupManager(a).ImportFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			v, err := a.store.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s, schema version %d\n", desc, v)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "name",
		Short: "Print the default backup file name for now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), backup.DefaultFileName(cfg.Product, time.Now()))
			return nil
		},
	})
	return cmd
}

func newBackupManager(a *app) *backup.Manager {
	return backup.New(a.store.Handle(),
		backup.WithFs(afero.NewOsFs()),
		backup.WithLogger(log.With().Str("component", "backup").Logger()),
	)
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Write records to an .xlsx spreadsheet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rangeFromFlags(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := export.Options{Location: time.Local}
			if r != nil {
				opts.Start, opts.End = &r.Start, &r.End
			}

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}
			sum, err := export.Write(cmd.Context(), a.store, f, opts)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				os.Remove(args[0])
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records, total %s\n", args[0], sum.RecordCount, formatAmount(sum.TotalAmount))
			return nil
		},
	}
	addRangeFlags(cmd)
	return cmd
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a line each time the records change, until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			addr, _ := cmd.Flags().GetString("metrics-addr")
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if addr != "" {
				srv := serveMetrics(addr)
				defer srv.Shutdown(context.Background())
			}

			for snap := range store.Watch(ctx, a.store, store.AllRecordsQuery()) {
				if snap.Err != nil {
					log.Error().Err(snap.Err).Uint64("seq", snap.Seq).Msg("evaluating records")
					continue
				}
				var total float64
				for _, rec := range snap.Value {
					total += rec.Amount
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s #%d: %d records, total %s\n",
					snap.At.Local().Format(time.TimeOnly), snap.Seq, len(snap.Value), formatAmount(total))
			}
			return nil
		},
	}
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
