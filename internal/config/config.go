package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string
	OpsAddr      string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis        RedisConfig
	Collect      CollectConfig
	Fetcher      FetcherConfig
	Prometheus   PrometheusConfig
	Orchestrator OrchestratorConfig
	Export       ExportConfig

	MessagingBackend string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// CollectConfig mirrors the [collect] section: period length and the default
// scope key/collector stamped on scope state rows.
type CollectConfig struct {
	Period      time.Duration
	WaitPeriods int
	ScopeKey    string
	Collector   string
	MetricsConf string
}

type FetcherConfig struct {
	Backend string
	// Sources is the static tenant list used by the "source" fetcher.
	Sources []string

	PrometheusMetric         string
	PrometheusScopeAttribute string
	PrometheusFilters        map[string]string
}

type PrometheusConfig struct {
	URL     string
	Timeout time.Duration
}

type OrchestratorConfig struct {
	MaxWorkers             int
	MaxWorkersReprocessing int
	MaxThreads             int
	PassInterval           time.Duration
	LockTTL                time.Duration
	Coordination           string
}

type ExportConfig struct {
	Backend   string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cpus := runtime.NumCPU()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "cloudkitty-processor"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		OpsAddr:      getenv("OPS_ADDR", ":9108"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "cloudkitty"),
		DBUser:            getenv("DATABASE_USER", "cloudkitty"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "localhost:6379")),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Collect: CollectConfig{
			Period:      getenvSeconds("COLLECT_PERIOD", 3600*time.Second),
			WaitPeriods: getenvInt("COLLECT_WAIT_PERIODS", 2),
			ScopeKey:    getenv("COLLECT_SCOPE_KEY", "project_id"),
			Collector:   getenv("COLLECT_COLLECTOR", "prometheus"),
			MetricsConf: getenv("COLLECT_METRICS_CONF", "/etc/cloudkitty/metrics.yml"),
		},
		Fetcher: FetcherConfig{
			Backend:                  strings.ToLower(getenv("FETCHER_BACKEND", "prometheus")),
			Sources:                  parseList(getenv("FETCHER_SOURCES", "")),
			PrometheusMetric:         getenv("FETCHER_PROMETHEUS_METRIC", ""),
			PrometheusScopeAttribute: getenv("FETCHER_PROMETHEUS_SCOPE_ATTRIBUTE", "project_id"),
			PrometheusFilters:        parsePairs(getenv("FETCHER_PROMETHEUS_FILTERS", "")),
		},
		Prometheus: PrometheusConfig{
			URL:     strings.TrimSpace(getenv("COLLECTOR_PROMETHEUS_URL", "http://localhost:9090")),
			Timeout: getenvSeconds("COLLECTOR_PROMETHEUS_TIMEOUT", 30*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			MaxWorkers:             getenvInt("ORCHESTRATOR_MAX_WORKERS", cpus),
			MaxWorkersReprocessing: getenvInt("ORCHESTRATOR_MAX_WORKERS_REPROCESSING", cpus),
			MaxThreads:             getenvInt("ORCHESTRATOR_MAX_THREADS", 2*cpus),
			PassInterval:           getenvSeconds("ORCHESTRATOR_PASS_INTERVAL", time.Second),
			LockTTL:                getenvSeconds("ORCHESTRATOR_LOCK_TTL", 30*time.Second),
			Coordination:           strings.ToLower(getenv("ORCHESTRATOR_COORDINATION", "redis")),
		},
		Export: ExportConfig{
			Backend:   strings.ToLower(strings.TrimSpace(getenv("EXPORT_BACKEND", ""))),
			Endpoint:  strings.TrimSpace(getenv("EXPORT_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("EXPORT_AUTH_TOKEN", "")),
		},
		MessagingBackend: strings.ToLower(getenv("MESSAGING_BACKEND", "redis")),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// getenvSeconds reads an integer number of seconds.
func getenvSeconds(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil || parsed < 0 {
		return def
	}
	return time.Duration(parsed) * time.Second
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// parsePairs reads "k1=v1,k2=v2".
func parsePairs(raw string) map[string]string {
	out := map[string]string{}
	for _, item := range parseList(raw) {
		key, value, ok := strings.Cut(item, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}
