package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/ChatWarden/internal/api"
	"github.com/BTreeMap/ChatWarden/internal/audit"
	"github.com/BTreeMap/ChatWarden/internal/bot"
	"github.com/BTreeMap/ChatWarden/internal/genai"
	"github.com/BTreeMap/ChatWarden/internal/greeting"
	"github.com/BTreeMap/ChatWarden/internal/lockfile"
	"github.com/BTreeMap/ChatWarden/internal/moderation"
	"github.com/BTreeMap/ChatWarden/internal/scheduler"
	"github.com/BTreeMap/ChatWarden/internal/session"
	"github.com/BTreeMap/ChatWarden/internal/statushub"
	"github.com/BTreeMap/ChatWarden/internal/store"
	"github.com/BTreeMap/ChatWarden/internal/tts"
	"github.com/BTreeMap/ChatWarden/internal/util"
	"github.com/BTreeMap/ChatWarden/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ChatWarden state data
	DefaultStateDir = "/var/lib/chatwarden"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "chatwarden.db"
	// DefaultArchiveFileName is the SQLite message archive, kept apart from the session database
	DefaultArchiveFileName = "archive.db"
	// DefaultQRFileName holds the pending pairing code for the dashboard
	DefaultQRFileName = "whatsapp.qr"
	// DefaultStickerFileName is the delete notice sticker inside the state directory
	DefaultStickerFileName = "delete.png"

	DefaultMorningCron      = "0 7 * * *"
	DefaultAfternoonCron    = "0 17 * * *"
	DefaultArchiveRetention = 30 * 24 * time.Hour
	archivePruneJob         = "archive-prune"
	archivePruneCron        = "30 3 * * *"
	shutdownTimeout         = 15 * time.Second
)

func main() {
	initializeLogger(os.Getenv("LOG_LEVEL"))

	config := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping ChatWarden", "state_dir", flags.stateDir, "api_addr", flags.apiAddr, "ai_provider", flags.aiProvider)
	if err := run(ctx, config, flags); err != nil {
		var lockErr *lockfile.LockError
		if errors.As(err, &lockErr) {
			slog.Error("ChatWarden is already running", "lock", lockErr.LockPath, "holder", lockErr.Holder)
		} else {
			slog.Error("ChatWarden failed to run", "error", err)
		}
		os.Exit(1)
	}
	slog.Info("ChatWarden exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir          string
	DBDSN             string
	ArchiveDSN        string
	GeminiKey         string
	OpenAIKey         string
	AIProvider        string
	Owners            []string
	GreetingGroups    []string
	ExtraGroups       []string
	ExtraMessage      string
	MorningCron       string
	AfternoonCron     string
	Timezone          string
	LanguageMode      greeting.Mode
	APIAddr           string
	SessionSecret     string
	DashboardUser     string
	DashboardPassword string
	KafkaBrokers      []string
	KafkaTopic        string
	DeleteStickerPath string
	FFmpegPath        string
	ArchiveRetention  time.Duration
}

// Flags holds command line flag values
type Flags struct {
	qrOutput   string
	numeric    bool
	stateDir   string
	dbDSN      string
	archiveDSN string
	geminiKey  string
	openaiKey  string
	aiProvider string
	owners     string
	apiAddr    string
}

// initializeLogger installs a text handler on stdout at the requested level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:          util.GetEnv("CHATWARDEN_STATE_DIR", DefaultStateDir),
		DBDSN:             os.Getenv("WHATSAPP_DB_DSN"),
		ArchiveDSN:        os.Getenv("ARCHIVE_DB_DSN"),
		GeminiKey:         os.Getenv("GEMINI_API_KEY"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		AIProvider:        util.GetEnv("AI_PROVIDER", genai.ProviderGemini),
		Owners:            util.ParseListEnv("OWNER_NUMBERS"),
		GreetingGroups:    util.ParseListEnv("MORNING_GROUP_IDS"),
		ExtraGroups:       util.ParseListEnv("MORNING_EXTRA_MESSAGE_GROUP_IDS"),
		ExtraMessage:      util.GetEnv("MORNING_EXTRA_MESSAGE", greeting.DefaultExtraMessage),
		MorningCron:       util.GetEnv("MORNING_TIME", DefaultMorningCron),
		AfternoonCron:     util.GetEnv("MORNING_TIME_AFTERNOON", DefaultAfternoonCron),
		Timezone:          util.GetEnv("GREETING_TIMEZONE", scheduler.DefaultTimezone),
		LanguageMode:      greeting.ParseMode(os.Getenv("LANGUAGE_MODE")),
		APIAddr:           util.GetEnv("API_ADDR", api.DefaultAddr),
		SessionSecret:     os.Getenv("SESSION_SECRET"),
		DashboardUser:     util.GetEnv("DASHBOARD_USER", api.DefaultUsername),
		DashboardPassword: os.Getenv("DASHBOARD_PASSWORD"),
		KafkaBrokers:      util.ParseListEnv("KAFKA_BROKERS"),
		KafkaTopic:        util.GetEnv("KAFKA_AUDIT_TOPIC", audit.DefaultTopic),
		DeleteStickerPath: os.Getenv("DELETE_STICKER_PATH"),
		FFmpegPath:        os.Getenv("FFMPEG_PATH"),
		ArchiveRetention:  util.ParseDurationEnv("ARCHIVE_RETENTION", DefaultArchiveRetention),
	}

	// DATABASE_URL is the fallback for the session database
	if config.DBDSN == "" {
		config.DBDSN = os.Getenv("DATABASE_URL")
		if config.DBDSN != "" {
			slog.Debug("Using DATABASE_URL as WHATSAPP_DB_DSN", "dsn_set", true)
		}
	}
	if config.DBDSN == "" {
		config.DBDSN = defaultSQLiteDSN(config.StateDir)
		slog.Debug("No database DSN provided, defaulting to SQLite", "dsn", config.DBDSN)
	}
	if config.ArchiveDSN == "" {
		config.ArchiveDSN = defaultArchiveDSN(config.StateDir)
	}
	if config.DeleteStickerPath == "" {
		config.DeleteStickerPath = filepath.Join(config.StateDir, DefaultStickerFileName)
	}

	slog.Debug("environment variables loaded",
		"CHATWARDEN_STATE_DIR", config.StateDir,
		"WHATSAPP_DB_DSN_SET", config.DBDSN != "",
		"ARCHIVE_DB_DSN", config.ArchiveDSN != defaultArchiveDSN(config.StateDir),
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"AI_PROVIDER", config.AIProvider,
		"OWNER_NUMBERS", len(config.Owners),
		"MORNING_GROUP_IDS", len(config.GreetingGroups),
		"MORNING_TIME", config.MorningCron,
		"MORNING_TIME_AFTERNOON", config.AfternoonCron,
		"LANGUAGE_MODE", config.LanguageMode,
		"API_ADDR", config.APIAddr,
		"KAFKA_BROKERS", len(config.KafkaBrokers))

	return config
}

func defaultSQLiteDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultDBFileName) + "?_foreign_keys=on"
}

func defaultArchiveDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultArchiveFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("chatwarden", flag.ContinueOnError)
	fs.StringVar(&flags.qrOutput, "qr-output", "", "path to write login QR code")
	fs.BoolVar(&flags.numeric, "numeric-code", false, "print the raw pairing code instead of a QR code")
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for ChatWarden data (overrides $CHATWARDEN_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.DBDSN, "database DSN for the WhatsApp session (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)")
	fs.StringVar(&flags.archiveDSN, "archive-dsn", config.ArchiveDSN, "database DSN for the message archive (overrides $ARCHIVE_DB_DSN)")
	fs.StringVar(&flags.geminiKey, "gemini-api-key", config.GeminiKey, "Gemini API key (overrides $GEMINI_API_KEY)")
	fs.StringVar(&flags.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&flags.aiProvider, "ai-provider", config.AIProvider, "generation backend: gemini or openai (overrides $AI_PROVIDER)")
	fs.StringVar(&flags.owners, "owners", strings.Join(config.Owners, ","), "comma separated owner numbers (overrides $OWNER_NUMBERS)")
	fs.StringVar(&flags.apiAddr, "api-addr", config.APIAddr, "dashboard address (overrides $API_ADDR)")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	slog.Debug("flags parsed",
		"qrOutput", flags.qrOutput,
		"numeric", flags.numeric,
		"stateDir", flags.stateDir,
		"dbDSN_set", flags.dbDSN != "",
		"aiProvider", flags.aiProvider,
		"apiAddr", flags.apiAddr)

	// Move the default SQLite database along with an overridden state directory
	if flags.dbDSN == defaultSQLiteDSN(config.StateDir) && flags.stateDir != config.StateDir {
		flags.dbDSN = defaultSQLiteDSN(flags.stateDir)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", flags.stateDir)
	}
	if flags.archiveDSN == defaultArchiveDSN(config.StateDir) && flags.stateDir != config.StateDir {
		flags.archiveDSN = defaultArchiveDSN(flags.stateDir)
	}
	if flags.archiveDSN == flags.dbDSN && store.DetectDSNType(flags.dbDSN) == store.DSNTypeSQLite {
		slog.Warn("Message archive shares the WhatsApp SQLite file, expect SQLITE_BUSY under load", "dsn", flags.dbDSN)
	}
	return flags, nil
}

// run wires every component and blocks until ctx is cancelled or the dashboard fails.
func run(ctx context.Context, config Config, flags Flags) error {
	if err := os.MkdirAll(flags.stateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	lock, err := lockfile.AcquireLock(flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	archive, err := store.New(flags.archiveDSN)
	if err != nil {
		return fmt.Errorf("open message archive: %w", err)
	}
	defer archive.Close()

	modStore := moderation.NewStore(filepath.Join(flags.stateDir, moderation.DefaultFileName))
	if _, err := modStore.Load(ctx); err != nil {
		return fmt.Errorf("load moderation document: %w", err)
	}
	policy := moderation.NewPolicy(util.SplitList(flags.owners))
	if len(policy.Owners()) == 0 {
		slog.Warn("No OWNER_NUMBERS configured, owner-only commands are disabled")
	}

	sink := buildAuditSink(config)
	defer sink.Close()

	generator := buildGenerator(ctx, flags)

	state := session.New()
	hub := statushub.NewHub()
	go hub.Run(ctx)
	state.Subscribe(hub.SessionListener())

	wa, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags, archive)...)
	if err != nil {
		return fmt.Errorf("create whatsapp client: %w", err)
	}

	b, err := bot.New(bot.Deps{
		Gateway:   wa,
		Store:     modStore,
		Policy:    policy,
		Generator: generator,
		Archive:   archive,
		Audit:     sink,
	}, buildBotOptions(config)...)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}
	router := bot.NewRouter(b, state, bot.DefaultQueueSize, bot.DefaultHandlerTimeout)
	wa.Subscribe(router.Enqueue)
	go router.Run(ctx)

	greeter, err := greeting.New(greeting.Deps{
		Sender:      wa,
		Synthesizer: buildSynthesizer(config),
		Store:       modStore,
		Session:     state,
		Hub:         hub,
		Audit:       sink,
	}, buildGreetingOptions(config, flags)...)
	if err != nil {
		return fmt.Errorf("create greeting engine: %w", err)
	}

	sched := scheduler.NewScheduler(scheduler.WithLocation(scheduler.LoadLocation(config.Timezone)))
	if err := registerJobs(sched, config, greeter, archive); err != nil {
		sched.Stop(context.Background())
		return err
	}

	apiOpts, err := buildAPIOptions(config, flags)
	if err != nil {
		sched.Stop(context.Background())
		return err
	}
	srv, err := api.NewServer(api.Deps{
		Store:   modStore,
		Policy:  policy,
		Session: state,
		Hub:     hub,
		Greeter: greeter,
		Audit:   sink,
	}, apiOpts...)
	if err != nil {
		sched.Stop(context.Background())
		return fmt.Errorf("create dashboard: %w", err)
	}
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	if err := wa.Connect(ctx); err != nil {
		slog.Error("WhatsApp connect failed", "error", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-srvErr:
		if err != nil {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Dashboard shutdown failed", "error", err)
	}
	wa.Disconnect()
	return runErr
}

func buildAuditSink(config Config) audit.Sink {
	if len(config.KafkaBrokers) == 0 {
		return audit.LogSink{}
	}
	sink, err := audit.NewKafkaSink(config.KafkaBrokers, config.KafkaTopic)
	if err != nil {
		slog.Warn("Kafka audit sink unavailable, logging audit entries instead", "error", err)
		return audit.LogSink{}
	}
	return sink
}

// buildGenerator returns nil when the selected provider has no key, which
// disables the "do" commands.
func buildGenerator(ctx context.Context, flags Flags) genai.Generator {
	key := flags.geminiKey
	if strings.EqualFold(flags.aiProvider, genai.ProviderOpenAI) {
		key = flags.openaiKey
	}
	gen, err := genai.New(ctx, flags.aiProvider, genai.WithAPIKey(key))
	if err != nil {
		slog.Warn("Generation backend disabled", "provider", flags.aiProvider, "error", err)
		return nil
	}
	return gen
}

func buildBotOptions(config Config) []bot.Option {
	opts := []bot.Option{bot.WithDeleteSticker(config.DeleteStickerPath)}
	if config.FFmpegPath != "" {
		opts = append(opts, bot.WithFFmpeg(config.FFmpegPath))
	}
	return opts
}

func buildSynthesizer(config Config) tts.Synthesizer {
	var opts []tts.Option
	if config.FFmpegPath != "" {
		opts = append(opts, tts.WithFFmpeg(config.FFmpegPath))
	}
	return tts.NewGoogleSynthesizer(opts...)
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags, archive store.Archive) []whatsapp.Option {
	waOpts := []whatsapp.Option{
		whatsapp.WithDBDSN(flags.dbDSN),
		whatsapp.WithArchive(archive),
		whatsapp.WithQRStatePath(filepath.Join(flags.stateDir, DefaultQRFileName)),
	}
	if flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(flags.qrOutput))
	}
	if flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	return waOpts
}

func buildGreetingOptions(config Config, flags Flags) []greeting.Option {
	return []greeting.Option{
		greeting.WithGroups(config.GreetingGroups),
		greeting.WithExtraMessage(config.ExtraMessage, config.ExtraGroups),
		greeting.WithMode(config.LanguageMode),
		greeting.WithTempDir(flags.stateDir),
	}
}

// buildAPIOptions hashes the dashboard password once at startup.
func buildAPIOptions(config Config, flags Flags) ([]api.Option, error) {
	opts := []api.Option{
		api.WithAddr(flags.apiAddr),
		api.WithSessionSecret(config.SessionSecret),
	}
	if config.DashboardPassword != "" {
		hash, err := api.HashPassword(config.DashboardPassword)
		if err != nil {
			return nil, fmt.Errorf("hash dashboard password: %w", err)
		}
		opts = append(opts, api.WithCredentials(config.DashboardUser, hash))
	}
	return opts, nil
}

func registerJobs(sched *scheduler.Scheduler, config Config, greeter *greeting.Engine, archive store.Archive) error {
	if len(config.GreetingGroups) == 0 {
		slog.Info("No MORNING_GROUP_IDS configured, greeting jobs not scheduled")
	} else {
		if err := sched.AddJob(string(greeting.KindMorning), config.MorningCron, greeter.Job(greeting.KindMorning)); err != nil {
			return err
		}
		if err := sched.AddJob(string(greeting.KindAfternoon), config.AfternoonCron, greeter.Job(greeting.KindAfternoon)); err != nil {
			return err
		}
	}
	if config.ArchiveRetention <= 0 {
		return nil
	}
	return sched.AddJob(archivePruneJob, archivePruneCron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := archive.PruneBefore(ctx, time.Now().Add(-config.ArchiveRetention))
		if err != nil {
			slog.Error("Archive prune failed", "error", err)
			return
		}
		slog.Info("Archive pruned", "removed", n, "retention", config.ArchiveRetention)
	})
}
