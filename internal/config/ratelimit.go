package config

import (
    "os"
    "strconv"
    "strings"
    "time"
)

// RateLimitConfig configures one token bucket.  Buckets are named so the
// login and segmentation routes can be tuned separately, e.g.
// RATE_LIMIT_SEGMENT_CAPACITY overrides RATE_LIMIT_CAPACITY for "segment".
type RateLimitConfig struct {
    Name           string
    Enabled        bool
    Capacity       int
    RefillTokens   int
    RefillInterval time.Duration
    TTL            time.Duration
    KeyStrategy    string
    Prefix         string
}

// bucket defaults per name.  Segmentation is keyed by user because each
// run costs credits; login is keyed by client address.
var rateDefaults = map[string]RateLimitConfig{
    "segment": {Capacity: 10, RefillTokens: 1, RefillInterval: 6 * time.Second, KeyStrategy: "user_route"},
    "login":   {Capacity: 5, RefillTokens: 1, RefillInterval: 12 * time.Second, KeyStrategy: "ip_route"},
}

func LoadRateLimitConfig(name string) RateLimitConfig {
    def, ok := rateDefaults[name]
    if !ok {
        def = RateLimitConfig{Capacity: 60, RefillTokens: 1, RefillInterval: time.Second, KeyStrategy: "ip_user_route"}
    }
    scoped := "RATE_LIMIT_" + strings.ToUpper(name) + "_"
    cfg := RateLimitConfig{
        Name:           name,
        Enabled:        envBool("RATE_LIMIT_ENABLED", true),
        Capacity:       envInt(scoped+"CAPACITY", envInt("RATE_LIMIT_CAPACITY", def.Capacity)),
        RefillTokens:   envInt(scoped+"REFILL_TOKENS", def.RefillTokens),
        RefillInterval: envDur(scoped+"REFILL_INTERVAL", def.RefillInterval),
        TTL:            envDur("RATE_LIMIT_TTL", 10*time.Minute),
        KeyStrategy:    envStr(scoped+"KEY_STRATEGY", def.KeyStrategy),
        Prefix:         envStr("RATE_LIMIT_PREFIX", "rl") + ":" + name,
    }
    if cfg.Capacity < 1 { cfg.Capacity = 1 }
    if cfg.RefillTokens < 1 { cfg.RefillTokens = 1 }
    if cfg.RefillInterval <= 0 { cfg.RefillInterval = time.Second }
    minTTL := 5 * cfg.RefillInterval
    if cfg.TTL < minTTL { cfg.TTL = minTTL }
    return cfg
}

func envStr(k, d string) string { if v := os.Getenv(k); v != "" { return v }; return d }
func envBool(k string, d bool) bool {
    v := os.Getenv(k)
    if v == "" { return d }
    switch strings.ToLower(v) {
    case "1", "true", "yes", "on": return true
    case "0", "false", "no", "off": return false
    }
    return d
}
func envInt(k string, d int) int {
    v := os.Getenv(k); if v == "" { return d }
    if n, err := strconv.Atoi(v); err == nil { return n }
    return d
}
func envDur(k string, d time.Duration) time.Duration {
    v := os.Getenv(k); if v == "" { return d }
    if dur, err := time.ParseDuration(v); err == nil { return dur }
    return d
}
