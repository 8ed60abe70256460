package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SubmitPolicy controls what Submit does when an immediate (online)
// delivery attempt fails.
type SubmitPolicy string

const (
	// SubmitFailFast returns the delivery error to the caller.
	SubmitFailFast SubmitPolicy = "fail_fast"
	// SubmitQueueOnFailure appends the payload to the pending queue instead.
	SubmitQueueOnFailure SubmitPolicy = "queue_on_failure"
)

type Config struct {
	ListenPort  string
	UpstreamURL string

	StaticPartition  string
	DynamicPartition string
	PrecacheManifest []string
	DynamicCacheCap  int

	CacheFile string
	QueueFile string
	RedisAddr string

	RequestTimeout time.Duration
	SubmitPolicy   SubmitPolicy

	ProbeInterval time.Duration
	SettleDelay   time.Duration

	SyncInterval    time.Duration
	SyncMaxAttempts int
	SyncBackoffBase time.Duration

	Debug bool

	KafkaEnabled    bool
	KafkaBrokers    []string
	AuditTopic      string
	AlertsTopic     string
	SyncTopic       string
	ConsumerGroupID string
}

func loadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		log.Fatal("Error getting working directory:", err)
	}

	possiblePaths := []string{
		filepath.Join(wd, ".env"),
		filepath.Join(wd, "..", ".env"),
		filepath.Join(wd, "..", "..", ".env"),
	}

	for _, envPath := range possiblePaths {
		if err := godotenv.Load(envPath); err == nil {
			log.Printf("Loaded environment variables from %s", envPath)
			return
		}
	}

	for _, envPath := range possiblePaths {
		examplePath := filepath.Join(filepath.Dir(envPath), ".example.env")
		if err := godotenv.Load(examplePath); err == nil {
			log.Printf("Loaded environment variables from %s", examplePath)
			return
		}
	}

	log.Println("No .env or .example.env file found, relying on process environment")
}

// Load reads the agent configuration from the environment. A .env file in
// the working directory (or up to two levels above it) is loaded first.
func Load() *Config {
	loadEnv()

	cfg := &Config{
		ListenPort:  getEnv("LISTEN_PORT", "9000"),
		UpstreamURL: strings.TrimRight(getEnv("UPSTREAM_URL", "http://localhost:5000"), "/"),

		StaticPartition:  getEnv("STATIC_PARTITION", "agrisync-static-v1"),
		DynamicPartition: getEnv("DYNAMIC_PARTITION", "agrisync-dynamic-v1"),
		DynamicCacheCap:  getEnvInt("DYNAMIC_CACHE_CAP", 500),

		CacheFile: getEnv("CACHE_FILE", "agrisync_cache.json"),
		QueueFile: getEnv("QUEUE_FILE", "offline_transactions.json"),
		RedisAddr: os.Getenv("REDIS_ADDR"),

		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 10*time.Second),
		SubmitPolicy:   SubmitPolicy(getEnv("SUBMIT_POLICY", string(SubmitFailFast))),

		ProbeInterval: getEnvDuration("PROBE_INTERVAL", 15*time.Second),
		SettleDelay:   getEnvDuration("SETTLE_DELAY", time.Second),

		SyncInterval:    getEnvDuration("SYNC_INTERVAL", 30*time.Second),
		SyncMaxAttempts: getEnvInt("SYNC_MAX_ATTEMPTS", 8),
		SyncBackoffBase: getEnvDuration("SYNC_BACKOFF_BASE", 2*time.Second),

		Debug: getEnv("DEBUG", "false") == "true",

		KafkaEnabled:    os.Getenv("KAFKA_BROKERS") != "",
		KafkaBrokers:    splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		AuditTopic:      getEnv("KAFKA_AUDIT_TOPIC", "audit_logs"),
		AlertsTopic:     getEnv("KAFKA_ALERTS_TOPIC", "price_alerts"),
		SyncTopic:       getEnv("KAFKA_SYNC_TOPIC", "sync_transactions"),
		ConsumerGroupID: getEnv("KAFKA_GROUP_ID", "agrisync-agent"),
	}

	manifest := getEnv("PRECACHE_MANIFEST", "/,/static/css/style.css,/static/js/script.js,/static/js/offline.js,/manifest.json,/offline.html")
	cfg.PrecacheManifest = splitList(manifest)

	if cfg.SubmitPolicy != SubmitFailFast && cfg.SubmitPolicy != SubmitQueueOnFailure {
		log.Fatalf("Invalid SUBMIT_POLICY %q", cfg.SubmitPolicy)
	}

	return cfg
}

// PostgresDSN assembles the connection string from the same variables the
// database migrations use. Empty when DB_HOST is unset, which selects the
// file-backed stores.
func (c *Config) PostgresDSN() string {
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	port, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	user := os.Getenv("POSTGRES_USER")
	password := os.Getenv("POSTGRES_PASSWORD")
	dbname := os.Getenv("POSTGRES_DB")

	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable", host, port, user, password, dbname)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("Invalid value for %s: %q", key, v)
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("Invalid value for %s: %q", key, v)
	}
	return d
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
