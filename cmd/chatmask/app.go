package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Zuo-Peng/chatmask/internal/config"
	"github.com/Zuo-Peng/chatmask/internal/logging"
	"github.com/Zuo-Peng/chatmask/internal/session"
	"github.com/Zuo-Peng/chatmask/internal/store"
)

// app bundles what most commands need: config, logger and the session store.
type app struct {
	cfg *config.Config
	log *zap.Logger
	db  *store.DB
}

func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		logging.Sync(log)
		return nil, fmt.Errorf("open db: %w", err)
	}
	return &app{cfg: cfg, log: log, db: db}, nil
}

func (a *app) Close() {
	a.db.Close()
	logging.Sync(a.log)
}

// session loads the stored session, failing when nothing has been ingested.
func (a *app) session() (*session.Session, error) {
	s, err := a.db.LoadSession()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s.Counts().Conversations == 0 {
		return nil, fmt.Errorf("no conversations loaded (run 'chatmask ingest <export.zip>' first)")
	}
	return s, nil
}

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// terminalWidth is the stdout width, or 0 when stdout is not a terminal.
func terminalWidth() int {
	if !stdoutIsTerminal() {
		return 0
	}
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 0
	}
	return w
}
