// Package config loads assetcheck settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Remote backends.
const (
	BackendSheets    = "sheets"
	BackendSurrealDB = "surrealdb"
)

// Config holds all configuration values.
type Config struct {
	// Remote tabular store
	RemoteBackend  string `env:"ASSETCHECK_REMOTE_BACKEND" envDefault:"sheets"`
	SpreadsheetID  string `env:"ASSETCHECK_SPREADSHEET_ID"`
	APIKey         string `env:"ASSETCHECK_API_KEY"`
	SheetsBaseURL  string `env:"ASSETCHECK_SHEETS_BASE_URL" envDefault:"https://sheets.googleapis.com"`
	DriveBaseURL   string `env:"ASSETCHECK_DRIVE_BASE_URL" envDefault:"https://www.googleapis.com"`
	SheetAssets    string `env:"ASSETCHECK_SHEET_ASSETS" envDefault:"Assets"`
	SheetProcs     string `env:"ASSETCHECK_SHEET_PROCEDURES" envDefault:"TestProcedures"`
	SheetResults   string `env:"ASSETCHECK_SHEET_RESULTS" envDefault:"TestResults"`
	SheetContracts string `env:"ASSETCHECK_SHEET_CONTRACTORS" envDefault:"Contractors"`
	DriveRoot      string `env:"ASSETCHECK_DRIVE_ROOT_FOLDER" envDefault:"DCAM Test Attachments"`

	// OAuth client
	ClientID     string   `env:"ASSETCHECK_CLIENT_ID"`
	ClientSecret string   `env:"ASSETCHECK_CLIENT_SECRET"`
	TokenScopes  []string `env:"ASSETCHECK_TOKEN_SCOPES" envSeparator:"," envDefault:"https://www.googleapis.com/auth/spreadsheets,https://www.googleapis.com/auth/drive.file"`
	// AccessToken is a fixed bearer token, used instead of the OAuth flow when set.
	AccessToken string `env:"ASSETCHECK_ACCESS_TOKEN"`

	// Local storage and catalog
	LocalDB        string `env:"ASSETCHECK_LOCAL_DB" envDefault:"assetcheck.db"`
	ProceduresFile string `env:"ASSETCHECK_PROCEDURES_FILE"`

	// Engine
	AutosaveInterval  time.Duration `env:"ASSETCHECK_AUTOSAVE_INTERVAL" envDefault:"30s"`
	SessionTTL        time.Duration `env:"ASSETCHECK_SESSION_TTL" envDefault:"24h"`
	ImageMaxDimension int           `env:"ASSETCHECK_IMAGE_MAX_DIMENSION" envDefault:"1600"`
	ImageQuality      int           `env:"ASSETCHECK_IMAGE_QUALITY" envDefault:"70"`
	ImageMaxPixels    int           `env:"ASSETCHECK_IMAGE_MAX_PIXELS" envDefault:"40000000"`
	DedupeOnDrain     bool          `env:"ASSETCHECK_DEDUPE_ON_DRAIN" envDefault:"true"`
	UploadConcurrency int           `env:"ASSETCHECK_UPLOAD_CONCURRENCY" envDefault:"4"`

	// Server
	ServerPort int `env:"ASSETCHECK_SERVER_PORT" envDefault:"8484"`

	// SurrealDB connection
	SurrealDBURL       string `env:"SURREALDB_URL" envDefault:"ws://localhost:8000/rpc"`
	SurrealDBNamespace string `env:"SURREALDB_NAMESPACE" envDefault:"assetcheck"`
	SurrealDBDatabase  string `env:"SURREALDB_DATABASE" envDefault:"maintenance"`
	SurrealDBUser      string `env:"SURREALDB_USER" envDefault:"root"`
	SurrealDBPass      string `env:"SURREALDB_PASS" envDefault:"root"`
	SurrealDBAuthLevel string `env:"SURREALDB_AUTH_LEVEL" envDefault:"root"`

	// Logging
	LogFile      string     `env:"ASSETCHECK_LOG_FILE" envDefault:"/tmp/assetcheck.log"`
	LogLevelName string     `env:"ASSETCHECK_LOG_LEVEL" envDefault:"INFO"`
	LogLevel     slog.Level `env:"-"`
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = parseLogLevel(cfg.LogLevelName)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	switch c.RemoteBackend {
	case BackendSheets, BackendSurrealDB:
	default:
		return fmt.Errorf("config: unknown remote backend %q", c.RemoteBackend)
	}
	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		return fmt.Errorf("config: image quality %d out of range 1-100", c.ImageQuality)
	}
	if c.ImageMaxDimension < 1 {
		return fmt.Errorf("config: image max dimension must be positive")
	}
	if c.ImageMaxPixels < c.ImageMaxDimension {
		return fmt.Errorf("config: image pixel budget %d is below the max dimension", c.ImageMaxPixels)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("config: session TTL must be positive")
	}
	return nil
}

// Range builds an A1 range on sheet, e.g. Range("TestResults", "A:Q").
func Range(sheet, cells string) string {
	if strings.ContainsAny(sheet, " '!") {
		sheet = "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	}
	return sheet + "!" + cells
}

// ResultsRange is where result rows are appended.
func (c Config) ResultsRange() string { return Range(c.SheetResults, "A:Q") }

// AssetsRange skips the header row.
func (c Config) AssetsRange() string { return Range(c.SheetAssets, "A2:Z") }

// ProceduresRange skips the header row.
func (c Config) ProceduresRange() string { return Range(c.SheetProcs, "A2:Z") }

// ContractorsRange skips the header row.
func (c Config) ContractorsRange() string { return Range(c.SheetContracts, "A2:Z") }

// HistoryRange reads result rows without the header.
func (c Config) HistoryRange() string { return Range(c.SheetResults, "A2:Q") }

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
