package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/replyline/replyline/internal/api"
	"github.com/replyline/replyline/internal/insights"
	"github.com/replyline/replyline/internal/store"
	"github.com/replyline/replyline/internal/twiliosms"
	"github.com/replyline/replyline/internal/util"
	"github.com/replyline/replyline/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Replyline state data
	DefaultStateDir = "/var/lib/replyline"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "replyline.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	storeOpts := buildStoreOptions(flags)
	apiOpts, err := buildAPIOptions(config, flags)
	if err != nil {
		slog.Error("Failed to configure modules", "error", err)
		os.Exit(1)
	}

	slog.Info("Bootstrapping Replyline with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(storeOpts, apiOpts); err != nil {
		slog.Error("Replyline failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Replyline exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL    string
	StateDir       string
	APIAddr        string
	JWTSecret      string
	GatewayBaseURL string
	OpenAIKey      string
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	WhatsAppOn     bool
	WhatsAppDSN    string
}

// Flags holds command line flag values
type Flags struct {
	stateDir       *string
	dbDSN          *string
	apiAddr        *string
	jwtSecret      *string
	gatewayBaseURL *string
	openaiKey      *string
	qrOutput       *string
	numeric        *bool
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
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StateDir:       os.Getenv("REPLYLINE_STATE_DIR"),
		APIAddr:        os.Getenv("API_ADDR"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		GatewayBaseURL: os.Getenv("SMS_GATEWAY_BASE_URL"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:     os.Getenv("TWILIO_FROM_NUMBER"),
		WhatsAppOn:     util.ParseBoolEnv("WHATSAPP_ENABLED", false),
		WhatsAppDSN:    os.Getenv("WHATSAPP_DB_DSN"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No REPLYLINE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Default to SQLite in the state directory when no database URL is provided.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"REPLYLINE_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"JWT_SECRET_SET", config.JWTSecret != "",
		"SMS_GATEWAY_BASE_URL_SET", config.GatewayBaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"TWILIO_CONFIGURED", config.TwilioSID != "" && config.TwilioToken != "",
		"WHATSAPP_ENABLED", config.WhatsAppOn)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:       flag.String("state-dir", config.StateDir, "state directory for Replyline data (overrides $REPLYLINE_STATE_DIR)"),
		dbDSN:          flag.String("db-dsn", config.DatabaseURL, "database DSN for the conversation store (overrides $DATABASE_URL)"),
		apiAddr:        flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		jwtSecret:      flag.String("jwt-secret", config.JWTSecret, "secret for admin API bearer tokens (overrides $JWT_SECRET)"),
		gatewayBaseURL: flag.String("gateway-base-url", config.GatewayBaseURL, "base URL of the outbound SMS gateway (overrides $SMS_GATEWAY_BASE_URL)"),
		openaiKey:      flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for feedback summaries (overrides $OPENAI_API_KEY)"),
		qrOutput:       flag.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:        flag.Bool("numeric-code", false, "use a numeric WhatsApp login code instead of a QR code"),
	}

	flag.Parse()

	// Follow an overridden state directory when the DSN still points at the
	// default SQLite file.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "db_path", *flags.dbDSN)
	}

	return flags
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql")
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// buildAPIOptions constructs API server configuration options, creating the
// optional delivery and insights clients for anything configured.
func buildAPIOptions(config Config, flags Flags) ([]api.Option, error) {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.jwtSecret != "" {
		apiOpts = append(apiOpts, api.WithJWTSecret(*flags.jwtSecret))
	}
	if *flags.gatewayBaseURL != "" {
		apiOpts = append(apiOpts, api.WithGatewayBaseURL(*flags.gatewayBaseURL))
	}

	if config.TwilioSID != "" && config.TwilioToken != "" {
		twilioClient, err := twiliosms.NewClient(
			twiliosms.WithAccountSID(config.TwilioSID),
			twiliosms.WithAuthToken(config.TwilioToken),
			twiliosms.WithFromNumber(config.TwilioFrom),
		)
		if err != nil {
			return nil, err
		}
		apiOpts = append(apiOpts, api.WithTwilioClient(twilioClient))
		slog.Info("Twilio delivery enabled")
	}

	if config.WhatsAppOn {
		waOpts := []whatsapp.Option{}
		if config.WhatsAppDSN != "" {
			waOpts = append(waOpts, whatsapp.WithDBDSN(config.WhatsAppDSN))
		}
		if *flags.qrOutput != "" {
			waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
		}
		if *flags.numeric {
			waOpts = append(waOpts, whatsapp.WithNumericCode())
		}
		waClient, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, err
		}
		apiOpts = append(apiOpts, api.WithWhatsAppClient(waClient))
		slog.Info("WhatsApp delivery enabled")
	}

	if *flags.openaiKey != "" {
		insightsClient, err := insights.NewClient(insights.WithAPIKey(*flags.openaiKey))
		if err != nil {
			return nil, err
		}
		apiOpts = append(apiOpts, api.WithInsights(insightsClient))
		slog.Info("Feedback summaries enabled")
	}

	return apiOpts, nil
}
