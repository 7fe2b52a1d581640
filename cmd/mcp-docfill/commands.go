package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a3tai/mcp-docfill/internal/docfill"
	"github.com/a3tai/mcp-docfill/internal/docfill/placeholder"
	"github.com/a3tai/mcp-docfill/internal/docfill/store"
	mcpserver "github.com/a3tai/mcp-docfill/internal/mcp"
	"github.com/a3tai/mcp-docfill/internal/metrics"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP tool server (stdio or sse)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server, err := mcpserver.NewServer(a.cfg, a.service, a.library, a.logger)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			if a.cfg.MetricsAddr != "" {
				stopMetrics := serveMetrics(a.cfg.MetricsAddr, a.metrics, a.logger)
				defer stopMetrics()
			}

			err = server.Run(ctx)
			a.logger.Info("server stopped", zap.Error(err))
			return err
		},
	}
}

// serveMetrics exposes /metrics until the returned function is called
func serveMetrics(addr string, m *metrics.Metrics, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Warn("metrics server shutdown", zap.Error(err))
		}
	}
}

func newGenerateCmd() *cobra.Command {
	var tableID, recordID, fieldID, out string
	cmd := &cobra.Command{
		Use:   "generate TEMPLATE",
		Short: "Fill a template with a record, render it and attach the PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tpl, err := a.library.Load(args[0])
			if err != nil {
				return err
			}
			result, err := a.service.Generate(cmd.Context(), docfill.GenerateRequest{
				Template:      tpl,
				TableID:       tableID,
				RecordID:      recordID,
				TargetFieldID: fieldID,
				Reporter:      docfill.LogReporter{Logger: a.logger},
			})
			if err != nil {
				return err
			}
			if out != "" {
				if err := os.WriteFile(out, result.PDF, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
			}
			return writeJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&tableID, "table", "", "Table ID (default: selection)")
	cmd.Flags().StringVar(&recordID, "record", "", "Record ID (default: selection)")
	cmd.Flags().StringVar(&fieldID, "field", "", "Attachment field ID; empty saves to the output directory")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Also write the PDF to this path")
	return cmd
}

func newInspectCmd() *cobra.Command {
	var tableID, recordID string
	var resolve bool
	cmd := &cobra.Command{
		Use:   "inspect TEMPLATE",
		Short: "List the placeholder keys of a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tpl, err := a.library.Load(args[0])
			if err != nil {
				return err
			}
			var record *placeholder.RecordMap
			if resolve {
				if record, err = a.service.Preview(cmd.Context(), tableID, recordID); err != nil {
					return err
				}
			}
			report, err := a.service.Inspect(tpl, record)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&resolve, "resolve", false, "Resolve keys against a record")
	cmd.Flags().StringVar(&tableID, "table", "", "Table ID (default: selection)")
	cmd.Flags().StringVar(&recordID, "record", "", "Record ID (default: selection)")
	return cmd
}

func newPreviewCmd() *cobra.Command {
	var tableID, recordID string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Print the normalized record map of a record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			record, err := a.service.Preview(cmd.Context(), tableID, recordID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), record.Dump())
			return err
		},
	}
	cmd.Flags().StringVar(&tableID, "table", "", "Table ID (default: selection)")
	cmd.Flags().StringVar(&recordID, "record", "", "Record ID (default: selection)")
	return cmd
}

func newFieldsCmd() *cobra.Command {
	var tableID string
	cmd := &cobra.Command{
		Use:   "fields",
		Short: "List the fields of a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.service.Fields(cmd.Context(), tableID)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().StringVar(&tableID, "table", "", "Table ID (default: selection)")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FIXTURE",
		Short: "Load a YAML fixture into the sqlite store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			db, ok := a.store.(*store.SQLiteStore)
			if !ok {
				return errors.New("import needs --store=sqlite")
			}
			fixture, err := store.LoadFixture(args[0])
			if err != nil {
				return err
			}
			if err := db.Import(cmd.Context(), fixture); err != nil {
				return err
			}
			records := 0
			for _, t := range fixture.Tables {
				records += len(t.Records)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d table(s), %d record(s) into %s\n",
				len(fixture.Tables), records, a.cfg.StorePath)
			return err
		},
	}
}
