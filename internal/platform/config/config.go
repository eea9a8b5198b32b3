package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"landgrid/pkg/domain"
)

// Config captures process-level configuration for the landgrid server.
type Config struct {
	Addr string

	// PostgresDSN enables the postgres-backed stores when set; otherwise the
	// server runs on in-memory stores.
	PostgresDSN string

	// RedisURL enables the sellable-listings snapshot cache when set.
	RedisURL string

	// KafkaBrokers enables the ledger event stream when non-empty.
	KafkaBrokers []string
	EventTopic   string

	// BaseURI is the metadata root; parcel metadata lives at {BaseURI}/{id}.json.
	BaseURI string

	// MaxLands is the fixed parcel supply cap.
	MaxLands uint64

	// Deployer is seeded with every role at startup.
	Deployer domain.Account

	// Treasury receives the marketplace fee cut and is the recorded seller of
	// marketplace-minted inventory.
	Treasury domain.Account

	// Marketplace is the custody account holding escrowed parcels.
	Marketplace domain.Account

	// FeeBps is the treasury cut of each sale, in basis points.
	FeeBps uint64

	JWTSigningKey string
}

// DefaultMaxLands mirrors the fixed supply of the original LANDS collection.
const DefaultMaxLands uint64 = 423801

// ListingsCacheTTL bounds staleness of the sellable-listings snapshot.
var ListingsCacheTTL = 30 * time.Second

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	cfg := Config{
		Addr:          envOr("LANDGRID_ADDR", ":8080"),
		PostgresDSN:   os.Getenv("LANDGRID_POSTGRES_DSN"),
		RedisURL:      os.Getenv("LANDGRID_REDIS_URL"),
		EventTopic:    envOr("LANDGRID_EVENT_TOPIC", "landgrid.ledger.events"),
		BaseURI:       envOr("LANDGRID_BASE_URI", "https://api.neoki.io/LANDS"),
		MaxLands:      DefaultMaxLands,
		Deployer:      domain.Account(strings.ToLower(os.Getenv("LANDGRID_DEPLOYER"))),
		Treasury:      domain.Account(strings.ToLower(os.Getenv("LANDGRID_TREASURY"))),
		Marketplace:   domain.Account(strings.ToLower(envOr("LANDGRID_MARKETPLACE", "marketplace"))),
		FeeBps:        400,
		JWTSigningKey: envOr("LANDGRID_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
	}

	if brokers := os.Getenv("LANDGRID_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	if raw := os.Getenv("LANDGRID_MAX_LANDS"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil && v > 0 {
			cfg.MaxLands = v
		}
	}
	if raw := os.Getenv("LANDGRID_FEE_BPS"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil && v <= 10000 {
			cfg.FeeBps = v
		}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
