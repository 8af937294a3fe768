package main

import (
	"log"
	"os"
	"time"

	"github.com/rawblock/veil-light-engine/internal/api"
	"github.com/rawblock/veil-light-engine/internal/db"
	"github.com/rawblock/veil-light-engine/internal/secp"
	"github.com/rawblock/veil-light-engine/internal/veild"
)

func main() {
	log.Println("Starting RawBlock Veil Light Wallet Engine...")
	secp.Initialize()

	// ─── Required Environment Variables ─────────────────────────────────
	// Node credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	var dbConn *db.PostgresStore
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		conn, err := db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without scan-state persistence. Error: %v", err)
		} else {
			dbConn = conn
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	} else {
		log.Println("DATABASE_URL not set — scan state will not persist across runs")
	}

	nodeURL := getEnvOrDefault("VEIL_RPC_URL", "http://localhost:58810")
	nodeUser := requireEnv("VEIL_RPC_USER")
	nodePass := requireEnv("VEIL_RPC_PASS")

	cfg := veild.Config{
		URL:     nodeURL,
		User:    nodeUser,
		Pass:    nodePass,
		Timeout: envDuration("VEIL_RPC_TIMEOUT", veild.DefaultTimeout),
	}
	veilClient, err := veild.NewClient(cfg)
	if err != nil {
		log.Printf("Warning: Failed to connect to Veil node: %v", err)
	} else {
		defer veilClient.Shutdown()
	}

	// Setup WebSocket Hub
	wsHub := api.NewHub()
	go wsHub.Run()

	if veilClient == nil {
		log.Println("WARNING: Veil node unavailable — engine running in offline mode (wallet/address ops only)")
	}

	// Setup the Gin Router
	r := api.SetupRouter(dbConn, veilClient, wsHub)

	port := getEnvOrDefault("PORT", "5840")

	// Start the server
	log.Printf("Engine running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// requireEnv reads a required environment variable and exits if it is not
// set. This prevents the binary from starting with missing critical
// configuration.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// envDuration parses a duration env var, falling back on absence or parse
// failure.
func envDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		log.Printf("Warning: invalid %s=%q, using %s", key, val, fallback)
	}
	return fallback
}
