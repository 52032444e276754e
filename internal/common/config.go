package common

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Channel  ChannelConfig
	Paths    PathsConfig
	Dispatch DispatchConfig
	Roster   RosterConfig
	Server   ServerConfig
}

// ChannelConfig holds the Evolution API connection settings.
type ChannelConfig struct {
	ServerURL    string
	APIKey       string
	InstanceName string
	TextTimeout  time.Duration
	MediaTimeout time.Duration
	ProbeTimeout time.Duration
}

// PathsConfig holds the working directories of the segmentation and
// dispatch flows.
type PathsConfig struct {
	UploadDir    string
	PayslipDir   string
	SentDir      string
	ReportDir    string
	StatusFile   string
	AuditDBPath  string
	PdftotextBin string
}

// DispatchConfig tunes the run loop.
type DispatchConfig struct {
	MaxAttempts      int
	ResumeFromIndex  int
	AdminPhone       string
	NotifyAdmin      bool
	ProbeWhatsApp    bool
	SuccessDelayBase time.Duration
	SuccessDelayVar  time.Duration
	FailureDelayBase time.Duration
	FailureDelayVar  time.Duration
}

// RosterConfig selects the roster source.
type RosterConfig struct {
	XLSXPath string
	// DatabaseDSN enables the Postgres roster source when set.
	DatabaseDSN string
	DialTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr string
}

// LoadConfig loads configuration from environment variables. A .env file
// in the working directory is applied first when present.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Channel: ChannelConfig{
			ServerURL:    getEnv("EVOLUTION_SERVER_URL", ""),
			APIKey:       getEnv("EVOLUTION_API_KEY", ""),
			InstanceName: getEnv("EVOLUTION_INSTANCE_NAME", ""),
			TextTimeout:  getEnvAsDuration("EVOLUTION_TEXT_TIMEOUT", 30*time.Second),
			MediaTimeout: getEnvAsDuration("EVOLUTION_MEDIA_TIMEOUT", 60*time.Second),
			ProbeTimeout: getEnvAsDuration("EVOLUTION_PROBE_TIMEOUT", 10*time.Second),
		},
		Paths: PathsConfig{
			UploadDir:    getEnv("UPLOAD_DIR", "./uploads"),
			PayslipDir:   getEnv("PAYSLIP_DIR", "./holerites"),
			SentDir:      getEnv("SENT_DIR", "./enviados"),
			ReportDir:    getEnv("REPORT_DIR", "./reports"),
			StatusFile:   getEnv("STATUS_FILE", "execution_status.json"),
			AuditDBPath:  getEnv("AUDIT_DB_PATH", "./audit.db"),
			PdftotextBin: getEnv("PDFTOTEXT_BIN", "pdftotext"),
		},
		Dispatch: DispatchConfig{
			MaxAttempts:      getEnvAsInt("SEND_MAX_ATTEMPTS", 3),
			ResumeFromIndex:  getEnvAsInt("START_FROM_INDEX", 0),
			AdminPhone:       getEnv("ADMIN_PHONE", ""),
			NotifyAdmin:      getEnvAsBool("NOTIFY_ADMIN", false),
			ProbeWhatsApp:    getEnvAsBool("PROBE_WHATSAPP", false),
			SuccessDelayBase: getEnvAsDuration("SUCCESS_DELAY_BASE", 60*time.Second),
			SuccessDelayVar:  getEnvAsDuration("SUCCESS_DELAY_VARIATION", 20*time.Second),
			FailureDelayBase: getEnvAsDuration("FAILURE_DELAY_BASE", 30*time.Second),
			FailureDelayVar:  getEnvAsDuration("FAILURE_DELAY_VARIATION", 10*time.Second),
		},
		Roster: RosterConfig{
			XLSXPath:    getEnv("ROSTER_XLSX", "./Colaboradores.xlsx"),
			DatabaseDSN: getEnv("DB_URL", ""),
			DialTimeout: getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		Server: ServerConfig{
			HTTPAddr: getEnv("HTTP_ADDR", ":8002"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate validates the loaded configuration. Channel settings are
// required for dispatch; segmentation only needs the directories.
func (c *Config) Validate() error {
	if c.Channel.ServerURL == "" {
		return NewAppError("CONFIG_ERROR", "EVOLUTION_SERVER_URL is required", ErrConfig)
	}
	if c.Channel.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "EVOLUTION_API_KEY is required", ErrConfig)
	}
	if c.Channel.InstanceName == "" {
		return NewAppError("CONFIG_ERROR", "EVOLUTION_INSTANCE_NAME is required", ErrConfig)
	}
	return nil
}

// EnsureDirs creates the working directories used by segmentation and
// dispatch.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.UploadDir, c.Paths.PayslipDir, c.Paths.SentDir, c.Paths.ReportDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return WrapError(err, "create directory "+dir)
		}
	}
	return nil
}
