package main

import (
	"flag"
	"log"
	"os"

	"DeltaSpirit/internal/di"
	"DeltaSpirit/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s analyzer=%s", cfg.Environment, cfg.Analyzer.Mode)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	log.Printf("clickhouse: connected - db: %s", cfg.ClickHouse.Database)
	log.Printf("redis: %s:%d channel=%s", cfg.Redis.Host, cfg.Redis.Port, cfg.Broadcast.Channel)

	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
