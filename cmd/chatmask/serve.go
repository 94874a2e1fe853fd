package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Zuo-Peng/chatmask/internal/ingest"
	"github.com/Zuo-Peng/chatmask/internal/parse"
	"github.com/Zuo-Peng/chatmask/internal/report"
	"github.com/Zuo-Peng/chatmask/internal/server"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API for uploading, reviewing and exporting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.db.LoadSession()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = a.cfg.ListenAddr
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			srv := server.New(addr, server.Deps{
				Session: s,
				Ingester: &ingest.Ingester{
					Logger:   a.log,
					Reporter: report.NewDiagnostics(a.cfg.DiagnosticsURL, a.cfg.ParticipantID, a.log),
					Metrics:  ingest.NewMetrics(reg),
					Options:  parse.Options{SortByCreateTime: a.cfg.SortByCreateTime},
				},
				Store:          a.db,
				Submitter:      report.NewSubmitter(a.cfg.SubmitURL, a.log),
				Help:           report.NewHelp(a.cfg.HelpURL, a.log),
				Logger:         a.log,
				Registry:       reg,
				ParticipantID:  a.cfg.ParticipantID,
				MaxUploadBytes: a.cfg.MaxUploadBytes(),
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: listen_addr from config)")

	return cmd
}
