// Command storage-init provisions the Azure table and queue used by the
// server before it first starts.
package main

import (
	"context"
	"flag"
	"time"

	log "github.com/sirupsen/logrus"

	"todofy/config"
	"todofy/notify"
	"todofy/storage"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	if cfg.StorageConn == "" {
		log.Fatal("missing STORAGE_CONNECTION_STRING")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := storage.EnsureTable(ctx, cfg.StorageConn, cfg.RecordsTable); err != nil {
		log.Fatalf("create table %s: %v", cfg.RecordsTable, err)
	}
	log.WithField("table", cfg.RecordsTable).Info("table ready")

	if cfg.NotifyQueue != "" {
		qc, err := notify.NewQueueClient(cfg.StorageConn, cfg.NotifyQueue)
		if err != nil {
			log.Fatalf("queue client: %v", err)
		}
		if err := notify.EnsureQueue(ctx, qc); err != nil {
			log.Fatalf("create queue %s: %v", cfg.NotifyQueue, err)
		}
		log.WithField("queue", cfg.NotifyQueue).Info("queue ready")
	}

	log.Info("storage init complete")
}
