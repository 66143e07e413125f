package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port      string
	AppEnv    string
	LogLevel  string
	JWTKey    string
	SaltRound int

	AdminEmail    string // bootstrap ADMIN account, created when no staff exists
	AdminPassword string

	DBDriver   string // postgres, mysql or sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	AzureAccountName   string
	AzureAccountKey    string
	AzureContainerName string

	VerifyBaseURL string // base path embedded in the QR code, filename is appended
	CUVPrefix     string

	GotenbergURL         string
	RenderTimeoutSeconds int

	RosterInboxDir        string
	RosterCron            string
	RosterMaxRowsPerSheet int
}

// AppConfig is a global variable to access configuration
var AppConfig *Config

// LoadConfig initializes configuration from environment variables or defaults
func LoadConfig() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found. Using system environment variables.")
	}

	AppConfig = &Config{
		Port:      getEnv("PORT", "3000"),
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", ""),
		JWTKey:    getEnv("JWT_SECRET_KEY", "defaultSecret"),
		SaltRound: getEnvInt("SALT_ROUND", 10),

		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "constancias"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		AzureAccountName:   getEnv("AZURE_STORAGE_ACCOUNT_NAME", ""),
		AzureAccountKey:    getEnv("AZURE_STORAGE_ACCOUNT_KEY", ""),
		AzureContainerName: getEnv("AZURE_STORAGE_CONTAINER_NAME", ""),

		VerifyBaseURL: getEnv("VERIFY_BASE_URL", "https://escuelanormal.blob.core.windows.net/constancias/"),
		CUVPrefix:     getEnv("CUV_PREFIX", "ENS"),

		GotenbergURL:         getEnv("GOTENBERG_URL", "http://localhost:3001"),
		RenderTimeoutSeconds: getEnvInt("RENDER_TIMEOUT_SECONDS", 30),

		RosterInboxDir:        getEnv("ROSTER_INBOX_DIR", ""),
		RosterCron:            getEnv("ROSTER_CRON", ""),
		RosterMaxRowsPerSheet: getEnvInt("ROSTER_MAX_ROWS_PER_SHEET", 0),
	}

	// Validate critical configuration
	if AppConfig.JWTKey == "defaultSecret" {
		log.Println("Warning: Using default JWT_SECRET_KEY. Update it in your environment.")
	}
	if !AppConfig.HasBlobCredentials() {
		log.Println("Warning: Azure storage credentials are not set. Certificate uploads will fail.")
	}
}

// HasBlobCredentials reports whether the artifact store can be reached
func (c *Config) HasBlobCredentials() bool {
	return c.AzureAccountName != "" && c.AzureAccountKey != "" && c.AzureContainerName != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt retrieves an environment variable as an integer or returns the default integer value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Error converting environment variable %s to int: %v", key, err)
		return defaultValue
	}
	return intValue
}
