package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every configuration variable.
const EnvPrefix = "SIGNON_"

// Cache locations.
const (
	CacheMemory = "memory"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

type Config struct {
	// Identity provider client.
	ClientID              string        `env:"CLIENT_ID"`
	Authority             string        `env:"AUTHORITY"`
	RedirectURI           string        `env:"REDIRECT_URI" envDefault:"http://127.0.0.1:8765/callback"`
	PostLogoutRedirectURI string        `env:"POST_LOGOUT_REDIRECT_URI"`
	Scopes                []string      `env:"SCOPES" envDefault:"openid,profile,offline_access"`
	RenewalOffset         time.Duration `env:"RENEWAL_OFFSET" envDefault:"300s"`
	InteractionMode       string        `env:"INTERACTION_MODE" envDefault:"redirect"`
	AutoBroker            bool          `env:"AUTO_BROKER"`
	SSOSession            string        `env:"SSO_SESSION"`

	// Where accounts and sealed refresh tokens live: memory, sqlite or redis.
	CacheLocation string `env:"CACHE_LOCATION" envDefault:"memory"`
	SQLiteFile    string `env:"SQLITE_FILE" envDefault:"signon.db"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB"`
	RedisPrefix   string `env:"REDIS_PREFIX" envDefault:"signon"`
	MasterKeyPath string `env:"MASTER_KEY_PATH"` // empty: ephemeral key, refresh tokens die with the process

	// Login policy.
	AutoRedirectOnFailure bool          `env:"AUTO_REDIRECT_ON_FAILURE"`
	InteractiveDelay      time.Duration `env:"INTERACTIVE_DELAY" envDefault:"500ms"`

	// User-info endpoint and bearer attachment.
	ProfileURL         string            `env:"PROFILE_URL"`
	AvatarURL          string            `env:"AVATAR_URL"`
	APIMarker          string            `env:"API_MARKER" envDefault:"api"`
	ProtectedResources map[string]string `env:"PROTECTED_RESOURCES" envKeyValSeparator:"="` // url prefix=space separated scopes

	DebugAddr           string        `env:"DEBUG_ADDR" envDefault:"127.0.0.1:8766"`
	Env                 string        `env:"ENV" envDefault:"dev"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat           string        `env:"LOG_FORMAT" envDefault:"json"`
	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`
	OTLPEndpoint        string        `env:"OTLP_ENDPOINT"`
}

// LoadConfig reads configuration from, lowest precedence first: envDefault
// tags, the YAML file named by SIGNON_CONFIG_FILE, a .env file, and the
// process environment.
//
// YAML keys are the variable names without the prefix, lower-cased:
// client_id, scopes (a list), protected_resources (a map), and so on.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	vars := make(map[string]string)
	if path := os.Getenv(EnvPrefix + "CONFIG_FILE"); path != "" {
		fileVars, err := readYAML(path)
		if err != nil {
			return Config{}, err
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	for k, v := range env.ToMap(os.Environ()) {
		vars[k] = v
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: vars}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// readYAML flattens a config file into prefixed variables so env parsing
// applies one set of rules to both sources.
func readYAML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	vars := make(map[string]string, len(raw))
	for k, v := range raw {
		key := EnvPrefix + strings.ToUpper(k)
		switch v := v.(type) {
		case nil:
		case []any:
			parts := make([]string, len(v))
			for i, p := range v {
				parts[i] = fmt.Sprint(p)
			}
			vars[key] = strings.Join(parts, ",")
		case map[string]any:
			parts := make([]string, 0, len(v))
			for mk, mv := range v {
				parts = append(parts, mk+"="+fmt.Sprint(mv))
			}
			vars[key] = strings.Join(parts, ",")
		default:
			vars[key] = fmt.Sprint(v)
		}
	}
	return vars, nil
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.ClientID == "" {
		errs = append(errs, errors.New(EnvPrefix+"CLIENT_ID is required"))
	}
	if c.Authority == "" {
		errs = append(errs, errors.New(EnvPrefix+"AUTHORITY is required"))
	}

	switch c.CacheLocation {
	case CacheMemory, CacheSQLite, CacheRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown cache location %q", c.CacheLocation))
	}
	switch c.InteractionMode {
	case "redirect", "popup":
	default:
		errs = append(errs, fmt.Errorf("unknown interaction mode %q", c.InteractionMode))
	}
	if len(c.Scopes) == 0 {
		errs = append(errs, errors.New("at least one scope is required"))
	}
	return errors.Join(errs...)
}

// protected turns ProtectedResources into the bearer transport's prefix map.
func (c Config) protected() map[string][]string {
	if len(c.ProtectedResources) == 0 {
		return nil
	}
	out := make(map[string][]string, len(c.ProtectedResources))
	for prefix, scopes := range c.ProtectedResources {
		out[prefix] = strings.Fields(scopes)
	}
	return out
}
