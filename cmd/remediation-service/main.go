package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/ILLUVRSE/saferemediate/internal/audit"
	"github.com/ILLUVRSE/saferemediate/internal/auth"
	"github.com/ILLUVRSE/saferemediate/internal/config"
	"github.com/ILLUVRSE/saferemediate/internal/decision"
	"github.com/ILLUVRSE/saferemediate/internal/executor"
	"github.com/ILLUVRSE/saferemediate/internal/healthcheck"
	"github.com/ILLUVRSE/saferemediate/internal/history"
	"github.com/ILLUVRSE/saferemediate/internal/httpserver"
	"github.com/ILLUVRSE/saferemediate/internal/orchestrator"
	"github.com/ILLUVRSE/saferemediate/internal/scheduler"
	"github.com/ILLUVRSE/saferemediate/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[startup] config load: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		st      store.Store    = store.NewMemoryStore()
		tracker history.Tracker = history.NewMemoryTracker()
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[startup] db open: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			log.Fatalf("[startup] db ping: %v", err)
		}
		st = store.NewPGStore(db)
		tracker = history.NewPGTracker(db)
	} else {
		log.Printf("[startup] no database configured; using in-memory store")
	}

	var (
		exec    executor.Executor   = executor.NewStaticExecutor()
		checker healthcheck.Checker = healthcheck.NewStaticChecker()
	)
	if cfg.SnapshotBucket != "" {
		iamExec, err := executor.NewIAMExecutor(ctx, cfg.SnapshotBucket, cfg.SnapshotPrefix)
		if err != nil {
			log.Fatalf("[startup] executor init: %v", err)
		}
		awsChecker, err := healthcheck.NewAWSChecker(ctx)
		if err != nil {
			log.Fatalf("[startup] health checker init: %v", err)
		}
		exec = iamExec
		checker = awsChecker
	} else {
		log.Printf("[startup] no snapshot bucket configured; using static executor and health checker")
	}

	var auditor audit.Recorder = audit.NewMemoryRecorder()
	if len(cfg.KafkaBrokers) > 0 {
		kafkaRec, err := audit.NewKafkaRecorder(audit.KafkaConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		})
		if err != nil {
			log.Fatalf("[startup] kafka recorder init: %v", err)
		}
		auditor = kafkaRec
	}
	defer auditor.Close()

	orch, err := orchestrator.New(orchestrator.Config{
		ApprovalTimeout:   cfg.ApprovalTimeout,
		CanaryStages:      cfg.CanaryStages,
		MonitorInterval:   cfg.MonitorInterval,
		ChangeWindowStart: cfg.ChangeWindowStart,
		ChangeWindowEnd:   cfg.ChangeWindowEnd,
	}, st, exec, checker, auditor, tracker)
	if err != nil {
		log.Fatalf("[startup] orchestrator init: %v", err)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.RequiredScope, cfg.DevAllowLocal)
	if err != nil {
		log.Fatalf("[startup] auth init: %v", err)
	}

	server := httpserver.New(cfg, decision.New(), orch, st, tracker, verifier)
	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: server.Router(),
	}

	go scheduler.Run(ctx, orch, scheduler.Config{PollInterval: cfg.SchedulerInterval})

	go func() {
		log.Printf("remediation service listening on %s", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	waitForShutdown(cancel, httpServer)
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
