// Package config provides configuration management for G6.
//
// Configuration is loaded once at startup from environment variables
// (with .env support via godotenv) into a typed Config struct. Every
// tunable named in spec §6 has a field here with the documented
// default; operational tuning stays on environment variables, nothing
// is re-read per call.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/g6-platform/g6/internal/utils"
)

// SeverityRule configures the warn/critical thresholds for one adaptive
// alert type (spec §4.G "Severity enrichment").
type SeverityRule struct {
	Warn     float64 `json:"warn"`
	Critical float64 `json:"critical"`
}

// FollowupWeights maps alert type to severity to the weight used by the
// follow-up dispatcher's weight-pressure gauge (spec §4.G).
type FollowupWeights map[string]map[string]float64

// Config holds process-wide G6 configuration.
type Config struct {
	// Cycle & stale detection (spec §4.H, §6)
	CycleInterval        time.Duration
	StaleWriteMode        string // allow|mark|skip|abort
	StaleFieldCovThreshold float64

	// Status thresholds (spec §3.4, §6)
	StrikeCoverageOK float64
	FieldCoverageOK  float64

	// Adaptive alerts (spec §4.G)
	InterpFractionAlertThreshold float64
	InterpFractionAlertStreak    int
	RiskDeltaDriftPct            float64
	RiskDeltaDriftWindow         int
	RiskBucketUtilMin            float64
	RiskBucketUtilStreak         int
	AdaptiveAlertSeverity        bool
	SeverityRules                map[string]SeverityRule

	// Follow-up dispatcher (spec §4.G)
	FollowupsEnabled         bool
	FollowupsSuppressSeconds int
	FollowupsWeights         FollowupWeights
	FollowupsWeightWindow    time.Duration
	FollowupsDemoteThreshold float64

	// Event bus (spec §4.E, §6)
	EventsBacklogWarn           int
	EventsBacklogDegrade        int
	EventsSnapshotGapMax        int
	EventsForceFullRetrySeconds int
	SSETrace                    bool
	SSEEmitLatencyCapture       bool
	EventsBusCapacity           int

	// Adaptive degrade controller (spec §4.E, §6)
	AdaptExitBacklogRatio      float64
	AdaptExitWindowSeconds     int
	AdaptLatBudgetMS           int
	AdaptReentryCooldownSecs   int
	AdaptMinSamples            int

	// Analytics (spec §4.F, §6)
	VolSurfaceEnabled      bool
	VolSurfaceBuckets      []float64
	VolSurfaceInterpolate  bool
	VolSurfacePersist      bool
	RiskAggEnabled         bool
	RiskAggBuckets         []float64
	ContractMultipliers    map[string]float64

	// Memory pressure tiers (spec §4.H step 3, §4.I memory_tier)
	MemoryTierElevatedMB float64
	MemoryTierHighMB     float64
	MemoryTierCriticalMB float64

	// Metrics (spec §4.D, §6)
	EnableMetricGroups          []string
	DisableMetricGroups         []string
	MetricsCardEnabled          bool
	MetricsCardATMWindow        float64
	MetricsCardRateLimitPerSec  float64
	MetricsCardChangeThreshold  float64
	DetailModeBandATMWindow     float64
	MetricsPort                 int

	// Filtering (spec §4.B, §6)
	SymbolMatchMode             string // strict|prefix|legacy
	SymbolMatchUnderlyingStrict bool
	SymbolMatchSafemode         bool
	DisablePrefilter            bool
	RelaxEmptyMatch             bool
	EnableNearestExpiryFallback bool
	EnableBackwardExpiryFallback bool

	// Runtime artifacts (spec §4.I, §6)
	RuntimeStatusPath string
	PanelDiffNestDepth int
	BenchmarkDumpDir   string
	BenchmarkKeepN     int

	// HTTP server (spec §4.J, §6)
	HTTPPort        int
	HTTPBasicUser   string
	HTTPBasicPass   string
	SnapshotCacheEnabled bool
	CatalogHTTPEnabled   bool

	// Index universe
	DataDir         string
	IndexConfigPath string
	ConfigWatch     bool

	// Market data backend (spec §4.A)
	ProviderRESTBaseURL string
	ProviderWSURL       string
	ProviderHTTPTimeout time.Duration

	LogLevel string
	DevMode  bool
}

// Load reads configuration from environment variables, applying the
// documented defaults for anything unset.
func Load() (*Config, error) {
	_ = loadDotEnv()

	cfg := &Config{
		CycleInterval:          getEnvAsDuration("G6_CYCLE_INTERVAL", 60*time.Second),
		StaleWriteMode:         getEnv("G6_STALE_WRITE_MODE", "mark"),
		StaleFieldCovThreshold: getEnvAsFloat("G6_STALE_FIELD_COV_THRESHOLD", 0.1),

		StrikeCoverageOK: getEnvAsFloat("G6_STRIKE_COVERAGE_OK", 0.75),
		FieldCoverageOK:  getEnvAsFloat("G6_FIELD_COVERAGE_OK", 0.55),

		InterpFractionAlertThreshold: getEnvAsFloat("G6_INTERP_FRACTION_ALERT_THRESHOLD", 0.6),
		InterpFractionAlertStreak:    getEnvAsInt("G6_INTERP_FRACTION_ALERT_STREAK", 5),
		RiskDeltaDriftPct:            getEnvAsFloat("G6_RISK_DELTA_DRIFT_PCT", 25),
		RiskDeltaDriftWindow:         getEnvAsInt("G6_RISK_DELTA_DRIFT_WINDOW", 5),
		RiskBucketUtilMin:            getEnvAsFloat("G6_RISK_BUCKET_UTIL_MIN", 0.7),
		RiskBucketUtilStreak:         getEnvAsInt("G6_RISK_BUCKET_UTIL_STREAK", 5),
		AdaptiveAlertSeverity:        getEnvAsBool("G6_ADAPTIVE_ALERT_SEVERITY", true),

		FollowupsEnabled:         getEnvAsBool("G6_FOLLOWUPS_ENABLED", true),
		FollowupsSuppressSeconds: getEnvAsInt("G6_FOLLOWUPS_SUPPRESS_SECONDS", 60),
		FollowupsWeightWindow:    getEnvAsDuration("G6_FOLLOWUPS_WEIGHT_WINDOW", 300*time.Second),
		FollowupsDemoteThreshold: getEnvAsFloat("G6_FOLLOWUPS_DEMOTE_THRESHOLD", 10),

		EventsBacklogWarn:           getEnvAsInt("G6_EVENTS_BACKLOG_WARN", 1024),
		EventsBacklogDegrade:        getEnvAsInt("G6_EVENTS_BACKLOG_DEGRADE", 1536),
		EventsSnapshotGapMax:        getEnvAsInt("G6_EVENTS_SNAPSHOT_GAP_MAX", 500),
		EventsForceFullRetrySeconds: getEnvAsInt("G6_EVENTS_FORCE_FULL_RETRY_SECONDS", 30),
		SSETrace:                    getEnvAsBool("G6_SSE_TRACE", false),
		SSEEmitLatencyCapture:       getEnvAsBool("G6_SSE_EMIT_LATENCY_CAPTURE", true),
		EventsBusCapacity:           getEnvAsInt("G6_EVENTS_BUS_CAPACITY", 2048),

		AdaptExitBacklogRatio:    getEnvAsFloat("G6_ADAPT_EXIT_BACKLOG_RATIO", 0.4),
		AdaptExitWindowSeconds:   getEnvAsInt("G6_ADAPT_EXIT_WINDOW_SECONDS", 5),
		AdaptLatBudgetMS:         getEnvAsInt("G6_ADAPT_LAT_BUDGET_MS", 50),
		AdaptReentryCooldownSecs: getEnvAsInt("G6_ADAPT_REENTRY_COOLDOWN_SECONDS", 30),
		AdaptMinSamples:          getEnvAsInt("G6_ADAPT_MIN_SAMPLES", 10),

		VolSurfaceEnabled:     getEnvAsBool("G6_VOL_SURFACE", true),
		VolSurfaceBuckets:     getEnvAsFloatList("G6_VOL_SURFACE_BUCKETS", []float64{-20, -10, -5, 0, 5, 10, 20}),
		VolSurfaceInterpolate: getEnvAsBool("G6_VOL_SURFACE_INTERPOLATE", true),
		VolSurfacePersist:     getEnvAsBool("G6_VOL_SURFACE_PERSIST", false),
		RiskAggEnabled:        getEnvAsBool("G6_RISK_AGG", true),
		RiskAggBuckets:        getEnvAsFloatList("G6_RISK_AGG_BUCKETS", []float64{-20, -10, -5, 0, 5, 10, 20}),
		ContractMultipliers:   getEnvContractMultipliers(),

		MemoryTierElevatedMB: getEnvAsFloat("G6_MEMORY_TIER_ELEVATED_MB", 1024),
		MemoryTierHighMB:     getEnvAsFloat("G6_MEMORY_TIER_HIGH_MB", 2048),
		MemoryTierCriticalMB: getEnvAsFloat("G6_MEMORY_TIER_CRITICAL_MB", 3072),

		EnableMetricGroups:         getEnvAsCSV("G6_ENABLE_METRIC_GROUPS"),
		DisableMetricGroups:        getEnvAsCSV("G6_DISABLE_METRIC_GROUPS"),
		MetricsCardEnabled:         getEnvAsBool("G6_METRICS_CARD_ENABLED", true),
		MetricsCardATMWindow:       getEnvAsFloat("G6_METRICS_CARD_ATM_WINDOW", 0),
		MetricsCardRateLimitPerSec: getEnvAsFloat("G6_METRICS_CARD_RATE_LIMIT_PER_SEC", 50),
		MetricsCardChangeThreshold: getEnvAsFloat("G6_METRICS_CARD_CHANGE_THRESHOLD", 0),
		DetailModeBandATMWindow:    getEnvAsFloat("G6_DETAIL_MODE_BAND_ATM_WINDOW", 200),
		MetricsPort:                getEnvAsInt("G6_METRICS_PORT", 9108),

		SymbolMatchMode:              getEnv("G6_SYMBOL_MATCH_MODE", "strict"),
		SymbolMatchUnderlyingStrict:  getEnvAsBool("G6_SYMBOL_MATCH_UNDERLYING_STRICT", false),
		SymbolMatchSafemode:          getEnvAsBool("G6_SYMBOL_MATCH_SAFEMODE", false),
		DisablePrefilter:             getEnvAsBool("G6_DISABLE_PREFILTER", false),
		RelaxEmptyMatch:              getEnvAsBool("G6_RELAX_EMPTY_MATCH", true),
		EnableNearestExpiryFallback:  getEnvAsBool("G6_ENABLE_NEAREST_EXPIRY_FALLBACK", true),
		EnableBackwardExpiryFallback: getEnvAsBool("G6_ENABLE_BACKWARD_EXPIRY_FALLBACK", true),

		RuntimeStatusPath:  getEnv("G6_RUNTIME_STATUS_PATH", "data/runtime_status.json"),
		PanelDiffNestDepth: getEnvAsInt("G6_PANEL_DIFF_NEST_DEPTH", 2),
		BenchmarkDumpDir:   getEnv("G6_BENCHMARK_DUMP", ""),
		BenchmarkKeepN:     getEnvAsInt("G6_BENCHMARK_KEEP_N", 50),

		HTTPPort:             getEnvAsInt("G6_HTTP_PORT", 9200),
		HTTPBasicUser:        getEnv("G6_HTTP_BASIC_USER", ""),
		HTTPBasicPass:        getEnv("G6_HTTP_BASIC_PASS", ""),
		SnapshotCacheEnabled: getEnvAsBool("G6_SNAPSHOT_CACHE_ENABLED", true),
		CatalogHTTPEnabled:   getEnvAsBool("G6_CATALOG_HTTP_ENABLED", true),

		DataDir:         getEnv("G6_DATA_DIR", "data"),
		IndexConfigPath: getEnv("G6_INDEX_CONFIG_PATH", ""),
		ConfigWatch:     getEnvAsBool("G6_CONFIG_WATCH", false),

		ProviderRESTBaseURL: getEnv("G6_PROVIDER_REST_BASE_URL", "https://api.example-broker.invalid"),
		ProviderWSURL:       getEnv("G6_PROVIDER_WS_URL", ""),
		ProviderHTTPTimeout: getEnvAsDuration("G6_PROVIDER_HTTP_TIMEOUT", 10*time.Second),

		LogLevel: getEnv("G6_LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("G6_DEV_MODE", false),
	}

	rules, err := getEnvAsSeverityRules("G6_ADAPTIVE_ALERT_SEVERITY_RULES")
	if err != nil {
		return nil, fmt.Errorf("parsing G6_ADAPTIVE_ALERT_SEVERITY_RULES: %w", err)
	}
	cfg.SeverityRules = rules

	weights, err := getEnvAsFollowupWeights("G6_FOLLOWUPS_WEIGHTS")
	if err != nil {
		return nil, fmt.Errorf("parsing G6_FOLLOWUPS_WEIGHTS: %w", err)
	}
	cfg.FollowupsWeights = weights

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks structural invariants of loaded configuration.
func (c *Config) Validate() error {
	switch c.StaleWriteMode {
	case "allow", "mark", "skip", "abort":
	default:
		return fmt.Errorf("invalid G6_STALE_WRITE_MODE: %q", c.StaleWriteMode)
	}
	switch c.SymbolMatchMode {
	case "strict", "prefix", "legacy":
	default:
		return fmt.Errorf("invalid G6_SYMBOL_MATCH_MODE: %q", c.SymbolMatchMode)
	}
	if c.StrikeCoverageOK < 0 || c.StrikeCoverageOK > 1 {
		return fmt.Errorf("G6_STRIKE_COVERAGE_OK must be in [0,1], got %v", c.StrikeCoverageOK)
	}
	if c.FieldCoverageOK < 0 || c.FieldCoverageOK > 1 {
		return fmt.Errorf("G6_FIELD_COVERAGE_OK must be in [0,1], got %v", c.FieldCoverageOK)
	}
	return nil
}

// ContractMultiplier returns the per-index contract multiplier used by
// risk aggregation notionals, defaulting to 1 when unset.
func (c *Config) ContractMultiplier(index string) float64 {
	if m, ok := c.ContractMultipliers[strings.ToUpper(index)]; ok {
		return m
	}
	return 1
}

// ==========================================
// Helper functions
// ==========================================

// loadDotEnv loads a .env file if present; a missing file is not an error,
// matching the teacher's best-effort local-dev convenience.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare seconds are also accepted (matches teacher's integer-second fields).
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvAsCSV(key string) []string {
	return utils.ParseCSV(os.Getenv(key))
}

func getEnvAsFloatList(key string, defaultValue []float64) []float64 {
	raw := getEnvAsCSV(key)
	if raw == nil {
		return defaultValue
	}
	out := make([]float64, 0, len(raw))
	for _, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return defaultValue
		}
		out = append(out, f)
	}
	return out
}

func getEnvContractMultipliers() map[string]float64 {
	result := map[string]float64{}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		const prefix = "G6_CONTRACT_MULTIPLIER_"
		if !strings.HasPrefix(parts[0], prefix) {
			continue
		}
		index := strings.TrimPrefix(parts[0], prefix)
		f, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			continue
		}
		result[strings.ToUpper(index)] = f
	}
	return result
}

func getEnvAsSeverityRules(key string) (map[string]SeverityRule, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultSeverityRules(), nil
	}
	var rules map[string]SeverityRule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

func defaultSeverityRules() map[string]SeverityRule {
	return map[string]SeverityRule{
		"interpolation_high": {Warn: 0.6, Critical: 0.85},
		"risk_delta_drift":   {Warn: 25, Critical: 50},
		"bucket_util_low":    {Warn: 0.7, Critical: 0.4},
	}
}

func getEnvAsFollowupWeights(key string) (FollowupWeights, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultFollowupWeights(), nil
	}
	var weights FollowupWeights
	if err := json.Unmarshal([]byte(raw), &weights); err != nil {
		return nil, err
	}
	return weights, nil
}

func defaultFollowupWeights() FollowupWeights {
	return FollowupWeights{
		"interpolation_high": {"info": 1, "warn": 2, "critical": 4},
		"risk_delta_drift":   {"info": 1, "warn": 2, "critical": 4},
		"bucket_util_low":    {"info": 1, "warn": 2, "critical": 4},
	}
}
