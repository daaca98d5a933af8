package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"cafepos/backend/internal/domain"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int

	RegisterID        string
	BackendURL        string
	BackendTimeout    time.Duration
	LogLevel          string
	LogFormat         string
	TracesExporter    string
	OTLPEndpoint      string
	CatalogTTLSeconds int
	LowStockThreshold int
	EventsChannel     string
	Timezone          string
	ConfigFile        string

	Catalog CatalogFile
}

// CatalogFile is the optional YAML document named by CONFIG_FILE.
type CatalogFile struct {
	SizeEligibleCategories []string       `yaml:"size_eligible_categories"`
	FallbackAddOns         []domain.AddOn `yaml:"fallback_add_ons"`
	LowStockThreshold      int            `yaml:"low_stock_threshold"`
	Timezone               string         `yaml:"timezone"`
}

// Load reads the environment and, when CONFIG_FILE is set, the YAML catalog
// settings. Environment values win over file values.
func Load() (Config, error) {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	tokenTTL := positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480)

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,

		RegisterID:        getEnv("REGISTER_ID", "main"),
		BackendURL:        strings.TrimRight(strings.TrimSpace(os.Getenv("BACKEND_URL")), "/"),
		BackendTimeout:    time.Duration(positiveInt("BACKEND_TIMEOUT_SECONDS", 10)) * time.Second,
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "json")),
		TracesExporter:    strings.ToLower(getEnv("OTEL_TRACES_EXPORTER", "none")),
		OTLPEndpoint:      strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		CatalogTTLSeconds: positiveInt("CATALOG_TTL_SECONDS", 30),
		EventsChannel:     getEnv("EVENTS_CHANNEL", "cafepos:events"),
		ConfigFile:        strings.TrimSpace(os.Getenv("CONFIG_FILE")),
	}

	if cfg.ConfigFile != "" {
		file, err := readCatalogFile(cfg.ConfigFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Catalog = file
	}

	cfg.LowStockThreshold = cfg.Catalog.LowStockThreshold
	if raw := os.Getenv("LOW_STOCK_THRESHOLD"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			cfg.LowStockThreshold = v
		}
	}
	if cfg.LowStockThreshold <= 0 {
		cfg.LowStockThreshold = 2
	}

	cfg.Timezone = getEnv("TZ_BUSINESS_DAY", cfg.Catalog.Timezone)
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	return cfg, nil
}

func readCatalogFile(path string) (CatalogFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return CatalogFile{}, fmt.Errorf("read config file: %w", err)
	}
	var file CatalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return CatalogFile{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	for i, addOn := range file.FallbackAddOns {
		if strings.TrimSpace(addOn.ID) == "" || addOn.AdditionalPrice < 0 {
			return CatalogFile{}, fmt.Errorf("config file %s: fallback add-on #%d needs an id and a non-negative price", path, i+1)
		}
	}
	return file, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) CatalogTTL() time.Duration {
	return time.Duration(c.CatalogTTLSeconds) * time.Second
}

// Location is the time zone business days are counted in.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("business day time zone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
