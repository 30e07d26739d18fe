package main

import (
	"context"
	"database/sql"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/firesentinel/firesentinel/internal/alert"
	"github.com/firesentinel/firesentinel/internal/api"
	"github.com/firesentinel/firesentinel/internal/classify"
	"github.com/firesentinel/firesentinel/internal/cluster"
	"github.com/firesentinel/firesentinel/internal/config"
	"github.com/firesentinel/firesentinel/internal/dedup"
	"github.com/firesentinel/firesentinel/internal/enrich"
	"github.com/firesentinel/firesentinel/internal/ingest"
	"github.com/firesentinel/firesentinel/internal/pipeline"
	"github.com/firesentinel/firesentinel/internal/store"
)

var cli struct {
	DB        string `name:"db" default:"data/firesentinel.db" help:"Path to SQLite database."`
	Config    string `name:"config" type:"path" help:"YAML config overriding the built-in defaults."`
	AdminAddr string `name:"admin-addr" default:":8080" help:"Admin HTTP listen address (health, metrics, JSON API)."`
	Once      bool   `name:"once" help:"Run a single detection cycle and exit."`
	NoPoll    bool   `name:"no-poll" help:"Disable the scheduler (admin server only)."`

	FIRMSKey      string `name:"firms-key" env:"FIRMS_MAP_KEY" required:"" help:"NASA FIRMS map key."`
	TelegramToken string `name:"telegram-token" env:"TELEGRAM_BOT_TOKEN" help:"Bot token for alert delivery."`
}

func main() {
	kong.Parse(&cli,
		kong.Name("firesentinel"),
		kong.Description("Satellite wildfire hotspot detection and intent classification."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
	)

	cfg := config.Default()
	if cli.Config != "" {
		var err error
		cfg, err = config.Load(cli.Config)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
	}

	db, err := sql.Open("sqlite", cli.DB)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("database migrated")

	firms := ingest.NewFIRMS(cli.FIRMSKey, cfg.Ingest)
	weather := enrich.NewWeatherClient(cfg.Enrichment)
	roads := enrich.NewRoadsClient(cfg.Enrichment)
	enricher := enrich.NewEnricher(weather, roads, cfg.Enrichment.Concurrency)

	var dispatcher alert.Dispatcher
	if cfg.Alerts.Enabled {
		if cli.TelegramToken == "" {
			log.Fatal("alerts enabled but TELEGRAM_BOT_TOKEN is not set")
		}
		dispatcher = alert.NewTelegramDispatcher(cli.TelegramToken, st, cfg.Alerts)
	}

	p := pipeline.New(firms, enricher,
		dedup.NewEngine(st, cfg.Dedup),
		cluster.NewEngine(st, cfg.Clustering),
		classify.NewClassifier(cfg.Classifier, cfg.Region.UTCOffset),
		dispatcher, st, cfg)
	scheduler := pipeline.NewScheduler(p, time.Duration(cfg.Ingest.IntervalMinutes)*time.Minute)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cli.Once {
		log.Printf("running single cycle for region %s", cfg.Region.Name)
		scheduler.RunOnce(ctx)
		return
	}

	if !cli.NoPoll {
		go scheduler.Run(ctx)
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	server := api.NewServer(st, cli.AdminAddr)
	log.Printf("monitoring region %s, admin server on %s", cfg.Region.Name, cli.AdminAddr)
	if err := server.Run(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
}
