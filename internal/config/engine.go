package config

import (
	"github.com/spf13/viper"

	"github.com/esoto/expense-tracker-sub002/internal/engine"
)

// LoadEngineConfig builds the engine configuration from Viper, which layers
// the config file under EXPENSE_ environment variables. Keys that are unset
// or out of range keep the engine defaults.
func LoadEngineConfig() engine.Config {
	cfg := engine.DefaultConfig()

	if v := viper.GetFloat64("engine.min_confidence"); v > 0 {
		cfg.MinConfidence = v
	}
	if v := viper.GetFloat64("engine.auto_categorize_threshold"); v > 0 {
		cfg.AutoCategorizeThreshold = v
	}
	if v := viper.GetFloat64("engine.match_threshold"); v > 0 {
		cfg.ConfidenceThreshold = v
	}
	if v := viper.GetDuration("engine.cache_ttl"); v > 0 {
		cfg.CacheTTL = v
	}
	if v := viper.GetInt("engine.cache_size"); v > 0 {
		cfg.CacheSize = v
	}
	if v := viper.GetInt("engine.max_alternatives"); v > 0 {
		cfg.MaxAlternatives = v
	}
	if v := viper.GetInt("engine.workers"); v > 0 {
		cfg.Workers = v
	}
	if v := viper.GetInt("engine.queue_size"); v > 0 {
		cfg.QueueSize = v
	}
	if v := viper.GetInt("engine.batch_size"); v > 0 {
		cfg.BatchSize = v
	}
	if v := viper.GetInt("engine.parallel_threshold"); v > 0 {
		cfg.ParallelThreshold = v
	}

	// Booleans that default to true need IsSet so a config file can turn
	// them off.
	if viper.IsSet("engine.include_alternatives") {
		cfg.IncludeAlternatives = viper.GetBool("engine.include_alternatives")
	}
	if viper.IsSet("engine.check_user_preferences") {
		cfg.CheckUserPreferences = viper.GetBool("engine.check_user_preferences")
	}
	if viper.IsSet("engine.circuit_breaker.enabled") {
		cfg.EnableCircuitBreaker = viper.GetBool("engine.circuit_breaker.enabled")
	}
	if v := viper.GetInt("engine.circuit_breaker.threshold"); v > 0 {
		cfg.CircuitBreakerThreshold = v
	}
	if v := viper.GetDuration("engine.circuit_breaker.timeout"); v > 0 {
		cfg.CircuitBreakerTimeout = v
	}

	return cfg
}
