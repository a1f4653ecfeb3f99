package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables, populated at
// startup by LoadConfig.
var (
	// Mode selects how the engine binds its pool and token ledger. "sim"
	// runs fully in-process; anything else refuses to start until a live
	// pool binding exists.
	Mode string

	// LogLevel sets the zerolog level ("debug", "info", ...). LogFile, when
	// set, mirrors log output to a file alongside the console.
	LogLevel string
	LogFile  string

	// WebPort is the listen port for the HTTP status API.
	WebPort string

	// BaseDenom is the protected asset; PairedDenom is the other pool leg.
	BaseDenom   string
	PairedDenom string

	// EngineAddress holds pooled funds; FeeSink receives withdrawal fees.
	EngineAddress string
	FeeSink       string

	// GovernanceAddress, EmergencyAddress and OperatorAddress receive the
	// corresponding capabilities.
	GovernanceAddress string
	EmergencyAddress  string
	OperatorAddress   string

	// Database connection parameters. DBEnabled false runs without
	// persistence.
	DBEnabled  bool
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
)

// LoadConfig loads configuration from environment variables and sets the
// global config vars. Database variables are only required when LPE_DB_ENABLED
// is true.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode, err = getEnv("LPE_MODE")
	if err != nil {
		return err
	}

	LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	LogFile = getEnvOrDefault("LOG_FILE", "")
	WebPort = getEnvOrDefault("WEB_PORT", "8080")

	BaseDenom, err = getEnv("LPE_BASE_DENOM")
	if err != nil {
		return err
	}
	PairedDenom, err = getEnv("LPE_PAIRED_DENOM")
	if err != nil {
		return err
	}

	EngineAddress, err = getEnv("LPE_ENGINE_ADDRESS")
	if err != nil {
		return err
	}
	FeeSink, err = getEnv("LPE_FEE_SINK")
	if err != nil {
		return err
	}

	GovernanceAddress, err = getEnv("LPE_GOVERNANCE_ADDRESS")
	if err != nil {
		return err
	}
	EmergencyAddress, err = getEnv("LPE_EMERGENCY_ADDRESS")
	if err != nil {
		return err
	}
	OperatorAddress, err = getEnv("LPE_OPERATOR_ADDRESS")
	if err != nil {
		return err
	}

	DBEnabled = getEnvOrDefault("LPE_DB_ENABLED", "false") == "true"
	if DBEnabled {
		DBHost, err = getEnv("DB_HOST")
		if err != nil {
			return err
		}
		DBPort, err = getEnvAsInt("DB_PORT")
		if err != nil {
			return err
		}
		DBUser, err = getEnv("DB_USER")
		if err != nil {
			return err
		}
		DBPassword, err = getEnv("DB_PASSWORD")
		if err != nil {
			return err
		}
		DBName, err = getEnv("DB_NAME")
		if err != nil {
			return err
		}
		DBSSLMode = getEnvOrDefault("DB_SSLMODE", "disable")
	}

	log.Debug().
		Str("Mode", Mode).
		Str("BaseDenom", BaseDenom).
		Str("PairedDenom", PairedDenom).
		Bool("DBEnabled", DBEnabled).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvOrDefault retrieves a string environment variable with a fallback.
func getEnvOrDefault(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if
// not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}
