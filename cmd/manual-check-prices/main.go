package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pricewarden/internal/broker"
	"pricewarden/internal/config"
	"pricewarden/internal/domain"
	"pricewarden/internal/notify"
	"pricewarden/internal/reconcile"
	"pricewarden/internal/source"
	"pricewarden/internal/store"
	"pricewarden/internal/update"
	"pricewarden/internal/util"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <instrument>\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Fetches prices for one instrument and walks through every")
		fmt.Fprintln(os.Stderr, "conflict with the stored series interactively. Use after a")
		fmt.Fprintln(os.Stderr, "spike notification, or to repair bad stored rows.")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	instrument := flag.Arg(0)

	_ = godotenv.Load()

	cfgPath := "config/pricewarden.yaml"
	if p := os.Getenv("PRICEWARDEN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Prompts share the terminal with the logs; keep the logs in a file if
	// one is configured, but never below warn on screen during a session.
	level := cfg.Logging.Level
	if level == "" || level == "debug" || level == "info" {
		level = "warn"
	}
	logger := util.NewLogger(util.LogOptions{
		Level:      level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	priceStore, err := store.NewSQLiteStore(cfg.Storage.SQLitePath, logger)
	if err != nil {
		log.Fatalf("failed to open price store: %v", err)
	}
	defer priceStore.Close()

	var archive update.Archiver
	if cfg.Storage.ArchiveDir != "" {
		archive = store.NewParquetArchive(cfg.Storage.ArchiveDir)
	}

	intraday, err := domain.ParseFrequency(cfg.Update.IntradayFrequency)
	if err != nil {
		log.Fatalf("bad intraday_frequency: %v", err)
	}

	session := broker.NewGatewaySession(cfg.Broker.Host, cfg.Broker.Port,
		cfg.Broker.ClientID, cfg.Broker.Account, logger)
	conn := broker.NewConnectionManager(session, notify.Nop{}, logger)
	if err := conn.Connect(ctx); err != nil {
		log.Fatalf("failed to connect to gateway: %v", err)
	}
	defer conn.Close()

	deps := source.Deps{
		Broker:            broker.NewPriceFetchClient(conn, logger),
		Registry:          priceStore,
		Vendor:            cfg.Vendor,
		IntradayFrequency: intraday,
		Log:               logger,
	}
	entries, err := update.BuildEntries(cfg.Sources, deps)
	if err != nil {
		log.Fatalf("failed to build datasources: %v", err)
	}

	// Manual mode: no spike screen, no e-mail. The operator is the screen.
	o := update.NewOrchestrator(priceStore, archive, notify.Nop{}, logger)
	for _, entry := range entries {
		o.AddSource(entry)
	}
	o.SetManual(reconcile.NewManualReconciler(os.Stdin, os.Stdout, logger))

	fmt.Printf("Manual price check for %s\n", instrument)
	if err := o.Run(ctx, instrument); err != nil {
		logger.Error("manual check finished with failures", "err", err)
		os.Exit(1)
	}
	fmt.Println("Manual price check complete.")
}
