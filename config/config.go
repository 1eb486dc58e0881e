// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds everything the daemon needs to run.
type Config struct {
	// ListenAddr is the HTTP bind address, e.g. ":8080".
	ListenAddr string

	// DatabaseURL is the PostgreSQL connection string.
	DatabaseURL string

	// AlgodAddress and AlgodToken locate the Algorand node.
	AlgodAddress string
	AlgodToken   string

	// OperatorMnemonic funds server-side signing when no external wallet
	// drives the purchase. Optional.
	OperatorMnemonic string

	// TimeoutRounds bounds confirmation polling per transaction.
	TimeoutRounds uint64

	// PinEndpoint and PinToken configure the IPFS pinning service.
	// Optional; listing media upload is disabled without them.
	PinEndpoint string
	PinToken    string
	PinGateway  string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		AlgodAddress:     getEnv("ALGOD_ADDRESS", "https://testnet-api.algonode.cloud"),
		AlgodToken:       os.Getenv("ALGOD_TOKEN"),
		OperatorMnemonic: os.Getenv("OPERATOR_MNEMONIC"),
		TimeoutRounds:    4,
		PinEndpoint:      getEnv("PIN_ENDPOINT", "https://api.pinata.cloud/pinning/pinFileToIPFS"),
		PinToken:         os.Getenv("PIN_TOKEN"),
		PinGateway:       getEnv("PIN_GATEWAY", "https://gateway.pinata.cloud/ipfs/"),
	}

	if raw := os.Getenv("TIMEOUT_ROUNDS"); raw != "" {
		rounds, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || rounds == 0 {
			return nil, fmt.Errorf("invalid TIMEOUT_ROUNDS %q", raw)
		}
		cfg.TimeoutRounds = rounds
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
