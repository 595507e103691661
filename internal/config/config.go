// Package config loads daemon settings from the environment and the
// known-clusters directory from a YAML file.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/dxwatch/dxwatch/internal/types"
)

// Config holds the application configuration.
type Config struct {
	Cluster       string // directory name or explicit host:port
	NATSURL       string // empty disables republishing
	RedisAddr     string // empty disables the lookup cache
	TranscriptDir string // empty disables the transcript
	ClustersFile  string

	Operator types.Operator

	QRZUsername string
	QRZPassword string
}

// Load loads the configuration from environment variables and .env file.
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	callsign := os.Getenv("CALLSIGN")
	if callsign == "" {
		return nil, fmt.Errorf("CALLSIGN environment variable is required")
	}

	return &Config{
		Cluster:       os.Getenv("CLUSTER"),
		NATSURL:       os.Getenv("NATS_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		TranscriptDir: os.Getenv("TRANSCRIPT_DIR"),
		ClustersFile:  os.Getenv("CLUSTERS_FILE"),
		Operator: types.Operator{
			Callsign: callsign,
			Name:     os.Getenv("OPERATOR_NAME"),
			QTH:      os.Getenv("OPERATOR_QTH"),
			Grid:     os.Getenv("OPERATOR_GRID"),
		},
		QRZUsername: os.Getenv("QRZ_USERNAME"),
		QRZPassword: os.Getenv("QRZ_PASSWORD"),
	}, nil
}
