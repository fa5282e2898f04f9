package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/PhrasePipe/internal/dispatch"
	"github.com/BTreeMap/PhrasePipe/internal/email"
	"github.com/BTreeMap/PhrasePipe/internal/genai"
	"github.com/BTreeMap/PhrasePipe/internal/lockfile"
	"github.com/BTreeMap/PhrasePipe/internal/retryqueue"
	"github.com/BTreeMap/PhrasePipe/internal/run"
	"github.com/BTreeMap/PhrasePipe/internal/scheduler"
	"github.com/BTreeMap/PhrasePipe/internal/store"
	"github.com/BTreeMap/PhrasePipe/internal/twiliosms"
	"github.com/BTreeMap/PhrasePipe/internal/util"
	"github.com/BTreeMap/PhrasePipe/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for PhrasePipe state data
	DefaultStateDir = "/var/lib/phrasepipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "phrasepipe.db"
	// DefaultCron is the default daemon schedule (every day at 08:00)
	DefaultCron = "0 8 * * *"
)

func main() {
	os.Exit(realMain())
}

// realMain wraps the whole invocation so deferred cleanup (lock release,
// store close) runs before the process exits with the run's code.
func realMain() int {
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)
	initializeLogger(config.Debug)

	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return 1
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		return 1
	}
	defer lock.Release()

	st, err := openStore(flags)
	if err != nil {
		slog.Error("Failed to open store", "error", err)
		return 1
	}
	defer st.Close()

	transport, err := buildTransport(config, flags)
	if err != nil {
		slog.Error("Failed to configure delivery channel", "error", err, "channel", *flags.channel)
		return 1
	}

	phrases := buildPhraseSource(st, config, flags)
	queue := retryqueue.NewStore(*flags.stateDir)

	cfg := run.Config{
		BatchSize:  config.BatchSize,
		MaxWorkers: config.MaxWorkers,
		RetryDelay: config.RetryDelay,
	}
	orchestrator, err := run.NewOrchestrator(cfg, run.Opts{
		Phrases:    phrases,
		Recipients: st,
		Transport:  transport,
		Tracer:     st,
		Queue:      queue,
		Stats:      st,
	})
	if err != nil {
		slog.Error("Failed to build orchestrator", "error", err)
		return 1
	}

	if *flags.daemon {
		return runDaemon(orchestrator, *flags.defaultCron)
	}
	return runOnce(orchestrator)
}

// runOnce performs a single delivery run and returns its exit code.
func runOnce(orchestrator *run.Orchestrator) int {
	report, err := orchestrator.Run(context.Background())
	if err != nil {
		slog.Error("Run failed", "error", err)
		return 1
	}
	report.Log()
	return report.ExitCode()
}

// runDaemon schedules delivery runs with cron and blocks until a signal
// arrives. Per-run failures are logged, not fatal.
func runDaemon(orchestrator *run.Orchestrator, cronExpr string) int {
	sched := scheduler.NewScheduler()
	defer sched.Stop()

	err := sched.AddJob(cronExpr, func() {
		if code := runOnce(orchestrator); code != 0 {
			slog.Warn("Scheduled run finished with failures", "exit_code", code)
		}
	})
	if err != nil {
		slog.Error("Invalid cron schedule", "error", err, "schedule", cronExpr)
		return 1
	}
	slog.Info("PhrasePipe daemon started", "schedule", cronExpr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	slog.Info("PhrasePipe daemon shutting down")
	return 0
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	DatabaseURL   string
	Channel       string
	OpenAIKey     string
	GenAIFallback bool
	WhatsAppDSN   string
	DefaultCron   string
	Debug         bool
	BatchSize     int
	MaxWorkers    int
	MaxRetries    int
	RetryDelay    time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	channel     *string
	openaiKey   *string
	qrOutput    *string
	numeric     *bool
	whatsappDSN *string
	daemon      *bool
	defaultCron *string
}

// initializeLogger sets up structured logging
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:      os.Getenv("PHRASEPIPE_STATE_DIR"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Channel:       os.Getenv("PHRASEPIPE_CHANNEL"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		GenAIFallback: util.ParseBoolEnv("PHRASEPIPE_GENAI_FALLBACK", false),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		DefaultCron:   os.Getenv("DEFAULT_SCHEDULE"),
		Debug:         util.ParseBoolEnv("PHRASEPIPE_DEBUG", false),
		BatchSize:     util.ParseIntEnv("EMAIL_BATCH_SIZE", dispatch.DefaultBatchSize),
		MaxWorkers:    util.ParseIntEnv("EMAIL_MAX_WORKERS", dispatch.DefaultMaxWorkers),
		MaxRetries:    util.ParseIntEnv("EMAIL_MAX_RETRIES", email.DefaultMaxRetries),
		RetryDelay:    util.ParseMinutesEnv("EMAIL_RETRY_DELAY_MINUTES", run.DefaultRetryDelay),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.Channel == "" {
		config.Channel = "email"
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}
	if config.DefaultCron == "" {
		config.DefaultCron = DefaultCron
	}
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for PhrasePipe data (overrides $PHRASEPIPE_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "database DSN for the phrase store (overrides $DATABASE_URL)"),
		channel:     flag.String("channel", config.Channel, "delivery channel: email, sms or whatsapp (overrides $PHRASEPIPE_CHANNEL)"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for fallback phrase generation (overrides $OPENAI_API_KEY)"),
		qrOutput:    flag.String("qr-output", "", "path to write WhatsApp login QR code"),
		numeric:     flag.Bool("numeric-code", false, "use numeric WhatsApp login code instead of QR code"),
		whatsappDSN: flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "database DSN for the WhatsApp session (overrides $WHATSAPP_DB_DSN)"),
		daemon:      flag.Bool("daemon", false, "keep running and dispatch on the cron schedule"),
		defaultCron: flag.String("default-cron", config.DefaultCron, "cron schedule for daemon mode (overrides $DEFAULT_SCHEDULE)"),
	}

	flag.Parse()

	// Follow an overridden state directory with the default-location databases.
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) {
			*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		}
		if *flags.whatsappDSN == filepath.Join(config.StateDir, "whatsmeow.db") {
			*flags.whatsappDSN = filepath.Join(*flags.stateDir, "whatsmeow.db")
		}
	}

	return flags
}

// openStore selects the store backend from the DSN shape.
func openStore(flags Flags) (store.Store, error) {
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithDSN(*flags.dbDSN))
}

// buildTransport constructs the delivery channel selected by configuration.
func buildTransport(config Config, flags Flags) (dispatch.Transport, error) {
	switch *flags.channel {
	case "sms":
		client, err := twiliosms.NewClient()
		if err != nil {
			return nil, err
		}
		return twiliosms.NewTransport(client), nil
	case "whatsapp":
		waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.whatsappDSN)}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		return whatsapp.NewTransport(client), nil
	case "", "email":
		return email.NewSender(email.WithMaxRetries(config.MaxRetries))
	default:
		return nil, fmt.Errorf("unknown delivery channel %q (want email, sms or whatsapp)", *flags.channel)
	}
}

// buildPhraseSource wires the store with the optional generated-phrase fallback.
func buildPhraseSource(st store.Store, config Config, flags Flags) run.PhraseSource {
	if !config.GenAIFallback {
		return st
	}
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Warn("GenAI fallback requested but unavailable", "error", err)
		return st
	}
	return run.NewFallbackPhraseSource(st, client)
}
