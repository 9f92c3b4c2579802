package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port        string
	DatabaseURL string
	DataPath    string
	DBDebug     bool

	NATSURL           string
	NATSSubjectPrefix string

	LogLevel  string
	LogFormat string

	// Matching
	MatchRadiusKm    float64
	WeightCapacity   float64
	WeightDistance   float64
	WeightFeature    float64
	WeightSimilarity float64
	SimilarityMode   string

	// Rebalancing
	OverloadThreshold    float64
	UnderloadThreshold   float64
	TargetRate           float64
	MoveCap              int
	HighPriorityExcess   int
	RebalanceInterval    time.Duration
	RebalanceAutoExecute bool

	LedgerMaxRetries int
}

// Similarity modes
const (
	SimilarityNeutral = "neutral"
	SimilarityHashed  = "hashed"
)

// LoadDotEnv loads the first .env found in the working directory or its
// parents. A missing file is not an error.
func LoadDotEnv() {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
			return
		}
	}
}

// Load reads the configuration from the environment and validates it
func Load() (*Config, error) {
	var errs []error
	cfg := &Config{
		Port:              getEnv("PORT", "8000"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DataPath:          getEnv("DATA_PATH", "shelters.db"),
		DBDebug:           getBool("DB_DEBUG", false, &errs),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "shelters.events"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "text"),

		MatchRadiusKm:    getFloat("MATCH_RADIUS_KM", 20, &errs),
		WeightCapacity:   getFloat("WEIGHT_CAPACITY", 0.2, &errs),
		WeightDistance:   getFloat("WEIGHT_DISTANCE", 0.3, &errs),
		WeightFeature:    getFloat("WEIGHT_FEATURE", 0.1, &errs),
		WeightSimilarity: getFloat("WEIGHT_SIMILARITY", 0.4, &errs),
		SimilarityMode:   strings.ToLower(getEnv("SIMILARITY_MODE", SimilarityNeutral)),

		OverloadThreshold:    getFloat("OVERLOAD_THRESHOLD", 0.8, &errs),
		UnderloadThreshold:   getFloat("UNDERLOAD_THRESHOLD", 0.5, &errs),
		TargetRate:           getFloat("TARGET_RATE", 0.75, &errs),
		MoveCap:              getInt("MOVE_CAP", 5, &errs),
		HighPriorityExcess:   getInt("HIGH_PRIORITY_EXCESS", 10, &errs),
		RebalanceInterval:    getDuration("REBALANCE_INTERVAL", 0, &errs),
		RebalanceAutoExecute: getBool("REBALANCE_AUTO_EXECUTE", false, &errs),

		LedgerMaxRetries: getInt("LEDGER_MAX_RETRIES", 3, &errs),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints
func (c *Config) Validate() error {
	var errs []error
	rate := func(name string, v float64) {
		if v <= 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0, 1], got %v", name, v))
		}
	}
	rate("OVERLOAD_THRESHOLD", c.OverloadThreshold)
	rate("UNDERLOAD_THRESHOLD", c.UnderloadThreshold)
	rate("TARGET_RATE", c.TargetRate)
	if c.UnderloadThreshold >= c.OverloadThreshold {
		errs = append(errs, fmt.Errorf("UNDERLOAD_THRESHOLD (%v) must be below OVERLOAD_THRESHOLD (%v)", c.UnderloadThreshold, c.OverloadThreshold))
	}
	if c.MatchRadiusKm <= 0 {
		errs = append(errs, fmt.Errorf("MATCH_RADIUS_KM must be positive, got %v", c.MatchRadiusKm))
	}
	if c.MoveCap <= 0 {
		errs = append(errs, fmt.Errorf("MOVE_CAP must be positive, got %d", c.MoveCap))
	}
	if c.HighPriorityExcess < 0 {
		errs = append(errs, fmt.Errorf("HIGH_PRIORITY_EXCESS must not be negative, got %d", c.HighPriorityExcess))
	}
	if c.LedgerMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("LEDGER_MAX_RETRIES must not be negative, got %d", c.LedgerMaxRetries))
	}
	if c.RebalanceInterval < 0 {
		errs = append(errs, fmt.Errorf("REBALANCE_INTERVAL must not be negative, got %v", c.RebalanceInterval))
	}
	for name, w := range map[string]float64{
		"WEIGHT_CAPACITY":   c.WeightCapacity,
		"WEIGHT_DISTANCE":   c.WeightDistance,
		"WEIGHT_FEATURE":    c.WeightFeature,
		"WEIGHT_SIMILARITY": c.WeightSimilarity,
	} {
		if w < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative, got %v", name, w))
		}
	}
	if c.WeightCapacity+c.WeightDistance+c.WeightFeature <= 0 {
		errs = append(errs, errors.New("capacity, distance and feature weights must not all be zero"))
	}
	if c.SimilarityMode != SimilarityNeutral && c.SimilarityMode != SimilarityHashed {
		errs = append(errs, fmt.Errorf("SIMILARITY_MODE must be %q or %q, got %q", SimilarityNeutral, SimilarityHashed, c.SimilarityMode))
	}
	return errors.Join(errs...)
}

// MatchRadiusMeters is the matching radius in meters
func (c *Config) MatchRadiusMeters() float64 {
	return c.MatchRadiusKm * 1000
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64, errs *[]error) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a number", key, value))
		return defaultValue
	}
	return f
}

func getInt(key string, defaultValue int, errs *[]error) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not an integer", key, value))
		return defaultValue
	}
	return n
}

func getBool(key string, defaultValue bool, errs *[]error) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a boolean", key, value))
		return defaultValue
	}
	return b
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %q is not a duration", key, value))
		return defaultValue
	}
	return d
}
