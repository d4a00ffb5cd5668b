package config // package config loads application configuration from environment variables

import (
    "log"     // log is used to report configuration errors and halt execution
    "os"      // os provides access to environment variables
    "strconv" // strconv converts strings to other types
    "time"

    "github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
    Env            string // application environment (e.g. "dev", "prod")
    Port           string // HTTP port to listen on
    DBUser         string // database username
    DBPass         string // database password (optional)
    DBHost         string // database host address
    DBPort         string // database port number
    DBName         string // database name
    DBMaxConns     int    // connection pool size
    JWTSecret      string // secret used to sign JWTs
    AccessTTLMin   int    // access token time‑to‑live in minutes
    RefreshTTLDays int    // refresh token time‑to‑live in days
    BcryptCost     int    // bcrypt cost for password hashing

    RequireEmailVerification bool   // reject logins of unverified accounts
    ProviderEmail            string // seeded provider account (optional)
    ProviderPassword         string
    AMQPURL                  string // broker for ledger events, "" disables publishing
    LedgerLogPath            string // audit file written by the ledger consumer
    WebhookEventTTL          time.Duration
    LogLevel                 string
    LogFormat                string
}

// LoadDotEnv reads .env when present.  A missing file is not an error.
func LoadDotEnv() bool {
    return godotenv.Load() == nil
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
    return Config{
        Env:            must("APP_ENV"),
        Port:           must("APP_PORT"),
        DBUser:         must("DB_USER"),
        DBPass:         os.Getenv("DB_PASS"), // empty allowed
        DBHost:         must("DB_HOST"),
        DBPort:         must("DB_PORT"),
        DBName:         must("DB_NAME"),
        DBMaxConns:     envInt("DB_MAX_CONNS", 20),
        JWTSecret:      must("JWT_SECRET"),
        AccessTTLMin:   mustInt("ACCESS_TOKEN_TTL_MIN"),
        RefreshTTLDays: mustInt("REFRESH_TOKEN_TTL_DAYS"),
        BcryptCost:     mustInt("BCRYPT_COST"),

        RequireEmailVerification: envBool("REQUIRE_EMAIL_VERIFICATION", true),
        ProviderEmail:            os.Getenv("PROVIDER_EMAIL"),
        ProviderPassword:         os.Getenv("PROVIDER_PASSWORD"),
        AMQPURL:                  os.Getenv("AMQP_URL"),
        LedgerLogPath:            envStr("LEDGER_LOG_PATH", "logs/ledger.log"),
        WebhookEventTTL:          envDur("STRIPE_EVENT_TTL", 72*time.Hour),
        LogLevel:                 envStr("LOG_LEVEL", "info"),
        LogFormat:                envStr("LOG_FORMAT", "json"),
    }
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
    v, ok := os.LookupEnv(key)
    if !ok || v == "" {
        log.Fatalf("missing required env var: %s", key)
    }
    return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func mustInt(key string) int {
    s := must(key)
    n, err := strconv.Atoi(s)
    if err != nil {
        log.Fatalf("invalid int for %s: %q", key, s)
    }
    return n
}
