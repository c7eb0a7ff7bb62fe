package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/oakhealth/preconsult/internal/api"
	"github.com/oakhealth/preconsult/internal/checklist"
	"github.com/oakhealth/preconsult/internal/genai"
	"github.com/oakhealth/preconsult/internal/interview"
	"github.com/oakhealth/preconsult/internal/lockfile"
	"github.com/oakhealth/preconsult/internal/store"
	"github.com/oakhealth/preconsult/internal/summary"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for preconsult state data
	DefaultStateDir = "/var/lib/preconsult"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "preconsult.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Load the interview checklist template
	template, err := loadTemplate(flags)
	if err != nil {
		slog.Error("Failed to load checklist template", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)

	// Guard the SQLite state directory against concurrent instances
	if *flags.redisAddr == "" && *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		lock, err := lockfile.AcquireLock(filepath.Dir(*flags.dbDSN))
		if err != nil {
			slog.Error("Failed to acquire state directory lock", "error", err)
			os.Exit(1)
		}
		defer lock.Release()
	}

	st, err := newStore(flags, storeOpts)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		slog.Error("Failed to initialize GenAI client", "error", err)
		os.Exit(1)
	}
	assistant := genai.NewAssistant(client)
	summarizer := summary.NewGenerator(client)

	if *flags.apiAddr != "" {
		runServer(template, assistant, st, summarizer, flags)
		return
	}

	if err := runInteractiveInterview(template, assistant, st, summarizer, flags); err != nil {
		slog.Error("Interview failed", "error", err)
		os.Exit(1)
	}
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	RedisAddr    string
	StateDir     string
	OpenAIKey    string
	OpenAIBase   string
	Model        string
	TemplatePath string
	APIAddr      string
	SummaryDir   string
}

// Flags holds command line flag values
type Flags struct {
	dbDSN        *string
	redisAddr    *string
	openaiKey    *string
	openaiBase   *string
	model        *string
	templatePath *string
	patient      *string
	doctor       *string
	appointment  *string
	apiAddr      *string
	maxQuestions *int
	summaryDir   *string
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		StateDir:     os.Getenv("PRECONSULT_STATE_DIR"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIBase:   os.Getenv("OPENAI_BASE_URL"),
		Model:        os.Getenv("OPENAI_MODEL"),
		TemplatePath: os.Getenv("CHECKLIST_TEMPLATE"),
		APIAddr:      os.Getenv("API_ADDR"),
		SummaryDir:   os.Getenv("SUMMARY_DIR"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No PRECONSULT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// If no database URL or Redis address is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" && config.RedisAddr == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REDIS_ADDR_SET", config.RedisAddr != "",
		"PRECONSULT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.Model,
		"CHECKLIST_TEMPLATE", config.TemplatePath,
		"API_ADDR", config.APIAddr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN for the record store (overrides $DATABASE_URL)"),
		redisAddr:    flag.String("redis-addr", config.RedisAddr, "Redis address for the record store (overrides $REDIS_ADDR)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiBase:   flag.String("openai-base-url", config.OpenAIBase, "OpenAI-compatible endpoint base URL (overrides $OPENAI_BASE_URL)"),
		model:        flag.String("model", config.Model, "chat model name (overrides $OPENAI_MODEL)"),
		templatePath: flag.String("template", config.TemplatePath, "path to a checklist template JSON file (overrides $CHECKLIST_TEMPLATE)"),
		patient:      flag.String("patient", "", "patient name for an interactive interview"),
		doctor:       flag.String("doctor", "Dr. Smith", "doctor name used in interview messages"),
		appointment:  flag.String("appointment", "", "appointment identifier attached to the interview record"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "run the HTTP API on this address instead of an interactive interview (overrides $API_ADDR)"),
		maxQuestions: flag.Int("max-questions", 0, "override the template's maximum question count"),
		summaryDir:   flag.String("summary-dir", config.SummaryDir, "directory for generated summary files (overrides $SUMMARY_DIR)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"dbDSN_set", *flags.dbDSN != "",
		"redisAddr_set", *flags.redisAddr != "",
		"openaiKeySet", *flags.openaiKey != "",
		"model", *flags.model,
		"templatePath", *flags.templatePath,
		"apiAddr", *flags.apiAddr,
		"maxQuestions", *flags.maxQuestions)

	return flags
}

// loadTemplate loads the checklist template from the configured path, falling
// back to the embedded default, and applies the max-questions override.
func loadTemplate(flags Flags) (*checklist.Template, error) {
	var template *checklist.Template
	var err error
	if *flags.templatePath != "" {
		template, err = checklist.Load(*flags.templatePath)
	} else {
		template, err = checklist.Default()
	}
	if err != nil {
		return nil, err
	}
	if *flags.maxQuestions > 0 {
		template.Rules.MaxQuestions = *flags.maxQuestions
		slog.Debug("Max questions overridden", "maxQuestions", *flags.maxQuestions)
	}
	return template, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.redisAddr != "" {
		slog.Debug("Redis address provided, configuring Redis store", "addr_set", true)
		storeOpts = append(storeOpts, store.WithRedisAddr(*flags.redisAddr))
		return storeOpts
	}
	if *flags.dbDSN != "" {
		// Check if it's a PostgreSQL DSN using the shared detection function
		if store.DetectDSNType(*flags.dbDSN) == "postgres" {
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		} else {
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// newStore initializes the record store backend selected by the flags.
func newStore(flags Flags, storeOpts []store.Option) (store.Store, error) {
	switch {
	case *flags.redisAddr != "":
		return store.NewRedisStore(storeOpts...)
	case *flags.dbDSN != "" && store.DetectDSNType(*flags.dbDSN) == "postgres":
		return store.NewPostgresStore(storeOpts...)
	case *flags.dbDSN != "":
		return store.NewSQLiteStore(storeOpts...)
	default:
		return store.NewInMemoryStore(), nil
	}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiBase != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.openaiBase))
	}
	if *flags.model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.model))
	}
	return genaiOpts
}

// runServer starts the HTTP API and blocks until it exits.
func runServer(template *checklist.Template, assistant *genai.Assistant, st store.Store, summarizer *summary.Generator, flags Flags) {
	apiOpts := []api.Option{
		api.WithAddr(*flags.apiAddr),
		api.WithTopicDetector(assistant),
		api.WithSummarizer(summarizer),
	}
	if *flags.summaryDir != "" {
		apiOpts = append(apiOpts, api.WithSummaryDir(*flags.summaryDir))
	}

	server := api.NewServer(template, assistant, assistant, st, apiOpts...)
	slog.Info("Starting preconsult API server", "addr", *flags.apiAddr)
	if err := server.Run(context.Background()); err != nil {
		slog.Error("API server failed", "error", err)
		os.Exit(1)
	}
}

// runInteractiveInterview drives one interview over stdin/stdout, then saves
// the record and the summary outputs.
func runInteractiveInterview(template *checklist.Template, assistant *genai.Assistant, st store.Store, summarizer *summary.Generator, flags Flags) error {
	patient := *flags.patient
	if patient == "" {
		return fmt.Errorf("patient name required for an interactive interview (use -patient or -api-addr)")
	}

	ctx := context.Background()
	params := interview.Params{
		ConversationID: uuid.NewString(),
		PatientName:    patient,
		DoctorName:     *flags.doctor,
		AppointmentID:  *flags.appointment,
	}
	orch := interview.NewOrchestrator(template, params, assistant, assistant,
		interview.WithTopicDetector(assistant))

	opening, err := orch.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start interview: %w", err)
	}
	fmt.Printf("\nClara: %s\n", opening)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("\n%s: ", patient)
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		reply, err := orch.ProcessPatientResponse(ctx, text)
		if err != nil {
			return fmt.Errorf("failed to process response: %w", err)
		}
		fmt.Printf("\nClara: %s\n", reply.Text)
		if reply.ShouldEnd {
			slog.Info("Interview ended", "conversationID", params.ConversationID, "reason", reply.EndReason)
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdin read failed: %w", err)
	}

	rec := orch.State().Snapshot()
	if err := st.SaveInterview(rec); err != nil {
		slog.Error("Failed to persist interview record", "error", err, "conversationID", rec.ConversationID)
	}

	if rec.Status.IsTerminal() {
		outputs := summarizer.Generate(ctx, rec)
		path, err := summary.SaveOutputs(outputs, *flags.summaryDir)
		if err != nil {
			slog.Error("Failed to save summary outputs", "error", err)
		} else {
			fmt.Printf("\nSummary saved: %s\n", path)
		}
	}
	return nil
}
