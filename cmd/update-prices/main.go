package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pricewarden/internal/broker"
	"pricewarden/internal/config"
	"pricewarden/internal/domain"
	"pricewarden/internal/notify"
	"pricewarden/internal/source"
	"pricewarden/internal/store"
	"pricewarden/internal/update"
	"pricewarden/internal/util"
)

func main() {
	scope := flag.String("instrument", update.AllInstruments, "instrument code to update, or ALL")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfgPath := "config/pricewarden.yaml"
	if p := os.Getenv("PRICEWARDEN_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(util.LogOptions{
		Level:      cfg.Logging.Level,
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

	var notifier notify.Notifier = notify.Nop{}
	if cfg.Email.Enabled {
		notifier = notify.NewMailer(cfg.Email.Host, cfg.Email.Port,
			cfg.Email.User, cfg.Email.Password,
			cfg.Email.From, cfg.Email.To, cfg.Email.SubjectPrefix, logger)
	}

	intraday, err := domain.ParseFrequency(cfg.Update.IntradayFrequency)
	if err != nil {
		log.Fatalf("bad intraday_frequency: %v", err)
	}

	session := broker.NewGatewaySession(cfg.Broker.Host, cfg.Broker.Port,
		cfg.Broker.ClientID, cfg.Broker.Account, logger)
	conn := broker.NewConnectionManager(session, notifier, logger)
	if usesBrokerDriver(cfg) {
		if err := conn.Connect(ctx); err != nil {
			// An identity conflict means another process owns our client id;
			// retrying would fight it forever.
			log.Fatalf("failed to connect to gateway: %v", err)
		}
		defer conn.Close()
	}

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

	o := update.NewOrchestrator(priceStore, archive, notifier, logger)
	for _, entry := range entries {
		o.AddSource(entry)
	}

	logger.Info("starting price update", "instrument", *scope, "sources", len(entries))
	if err := o.Run(ctx, *scope); err != nil {
		logger.Error("price update finished with failures", "err", err)
		os.Exit(1)
	}
	logger.Info("price update complete")
}

// usesBrokerDriver reports whether any enabled datasource needs the gateway.
func usesBrokerDriver(cfg *config.Config) bool {
	for _, sc := range cfg.Sources {
		if sc.Driver == "broker" && sc.IsEnabled() {
			return true
		}
	}
	return false
}
