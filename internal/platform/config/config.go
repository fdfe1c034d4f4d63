package config

import (
	"os"
	"time"
)

// Server captures process-level configuration. Values come from the
// environment so main stays lean; empty optional values disable the
// corresponding dependency (Postgres, Redis, Kafka) and the in-memory or
// logging fallback is wired instead.
type Server struct {
	Addr       string
	AdminToken string

	// AgentBaseURL is the admin endpoint of the external protocol agent that
	// executes credential and proof exchanges on our behalf.
	AgentBaseURL string
	AgentAPIKey  string

	DatabaseURL  string
	RedisURL     string
	KafkaBrokers string
	AuditTopic   string

	// EventDedupTTL bounds how long processed protocol events are remembered
	// for duplicate suppression. The agent redelivers at-least-once, so this
	// only needs to cover its retry horizon.
	EventDedupTTL time.Duration

	// ResetStateOnDIDChange resets a partner's connection state to invited
	// when its DID is changed before any exchange completed. Off by default:
	// an observed handshake is not undone by re-anchoring.
	ResetStateOnDIDChange bool
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:          getEnv("ACCORD_ADDR", ":8080"),
		AdminToken:    getEnv("ADMIN_TOKEN", "dev-admin-token-change-in-production"),
		AgentBaseURL:  os.Getenv("AGENT_BASE_URL"),
		AgentAPIKey:   os.Getenv("AGENT_API_KEY"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  os.Getenv("KAFKA_BROKERS"),
		AuditTopic:    getEnv("AUDIT_TOPIC", "accord.audit.events"),
		EventDedupTTL: 24 * time.Hour,

		ResetStateOnDIDChange: os.Getenv("RESET_STATE_ON_DID_CHANGE") == "true",
	}

	if ttl := os.Getenv("EVENT_DEDUP_TTL"); ttl != "" {
		if duration, err := time.ParseDuration(ttl); err == nil {
			cfg.EventDedupTTL = duration
		}
	}

	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
