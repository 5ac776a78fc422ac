package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/rangebot/internal/domain"
)

// Config es la configuración completa del bot.
type Config struct {
	Chain   ChainConfig   `yaml:"chain"`
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// ChainConfig describe la cadena y los endpoints RPC candidatos.
type ChainConfig struct {
	ID        int64            `yaml:"id"`
	Endpoints []EndpointConfig `yaml:"endpoints"`
}

// EndpointConfig es un nodo RPC candidato, tal como viene del YAML.
type EndpointConfig struct {
	URL                   string  `yaml:"url"`
	Name                  string  `yaml:"name"`
	Priority              int     `yaml:"priority"`
	ConnectTimeoutSeconds int     `yaml:"connect_timeout_seconds"`
	MaxRetries            int     `yaml:"max_retries"`
	RateLimitPerSec       float64 `yaml:"rate_limit_per_sec"`
}

// BaseCurrencyConfig es un candidato del set fijo de base currencies.
type BaseCurrencyConfig struct {
	Symbol   string `yaml:"symbol"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
}

// EngineConfig controla el comportamiento del lifecycle engine.
type EngineConfig struct {
	Retry              RetryConfig          `yaml:"retry"`
	BaseCurrencies     []BaseCurrencyConfig `yaml:"base_currencies"`
	DustThresholdWei   string               `yaml:"dust_threshold_wei"`
	MinRangeTicks      int32                `yaml:"min_range_ticks"`
	MaxRangeTicks      int32                `yaml:"max_range_ticks"`
	PollIntervalMillis int                  `yaml:"poll_interval_ms"`
}

// RetryConfig es la política de reintentos de la etapa de creación.
type RetryConfig struct {
	InitialDelayMillis int     `yaml:"initial_delay_ms"`
	MaxAttempts        int     `yaml:"max_attempts"`
	BackoffMultiplier  float64 `yaml:"backoff_multiplier"`
	MaxDelayMillis     int     `yaml:"max_delay_ms"`
}

// StorageConfig controla dónde se persiste el estado.
type StorageConfig struct {
	StatePath  string `yaml:"state_path"`  // fichero JSON con el mapa de instancias
	BackupsDir string `yaml:"backups_dir"` // backups con timestamp, se podan a 10
	LedgerDSN  string `yaml:"ledger_dsn"`  // ruta al SQLite del ledger, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Validate comprueba los campos sin default razonable. Los errores de
// configuración son fatales: el proceso no arranca.
func (c *Config) Validate() error {
	if c.Chain.ID <= 0 {
		return fmt.Errorf("chain.id is required")
	}
	if len(c.Chain.Endpoints) == 0 {
		return fmt.Errorf("at least one chain endpoint is required")
	}
	for i, ep := range c.Chain.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("chain.endpoints[%d]: url is required", i)
		}
	}
	if c.Engine.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("engine.retry.backoff_multiplier must be >= 1")
	}
	return nil
}

// DomainEndpoints convierte los endpoints del YAML al modelo de dominio.
func (c *Config) DomainEndpoints() []domain.Endpoint {
	eps := make([]domain.Endpoint, 0, len(c.Chain.Endpoints))
	for _, ep := range c.Chain.Endpoints {
		eps = append(eps, domain.Endpoint{
			URL:            ep.URL,
			Name:           ep.Name,
			Priority:       ep.Priority,
			ConnectTimeout: time.Duration(ep.ConnectTimeoutSeconds) * time.Second,
			MaxRetries:     ep.MaxRetries,
			HealthInterval: 30 * time.Second,
			RateLimit:      ep.RateLimitPerSec,
		})
	}
	return eps
}

// RetryPolicy devuelve la política de reintentos como tipo de dominio.
func (c *Config) RetryPolicy() domain.RetryPolicy {
	return domain.RetryPolicy{
		InitialDelay:      time.Duration(c.Engine.Retry.InitialDelayMillis) * time.Millisecond,
		MaxAttempts:       c.Engine.Retry.MaxAttempts,
		BackoffMultiplier: c.Engine.Retry.BackoffMultiplier,
		MaxDelay:          time.Duration(c.Engine.Retry.MaxDelayMillis) * time.Millisecond,
	}
}

// PollInterval devuelve el intervalo de polling del monitor.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Engine.PollIntervalMillis) * time.Millisecond
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("RANGEBOT_STATE_PATH"); v != "" {
		cfg.Storage.StatePath = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	for i := range cfg.Chain.Endpoints {
		ep := &cfg.Chain.Endpoints[i]
		if ep.ConnectTimeoutSeconds <= 0 {
			ep.ConnectTimeoutSeconds = 10
		}
		if ep.MaxRetries <= 0 {
			ep.MaxRetries = 2
		}
		if ep.Name == "" {
			ep.Name = ep.URL
		}
	}
	if cfg.Engine.Retry.InitialDelayMillis <= 0 {
		cfg.Engine.Retry.InitialDelayMillis = 2000
	}
	if cfg.Engine.Retry.MaxAttempts <= 0 {
		cfg.Engine.Retry.MaxAttempts = 5
	}
	if cfg.Engine.Retry.BackoffMultiplier == 0 {
		cfg.Engine.Retry.BackoffMultiplier = 2
	}
	if cfg.Engine.Retry.MaxDelayMillis <= 0 {
		cfg.Engine.Retry.MaxDelayMillis = 60000
	}
	if cfg.Engine.DustThresholdWei == "" {
		cfg.Engine.DustThresholdWei = "1000000000000" // 1e12: despreciable para tokens de 18 decimales
	}
	if cfg.Engine.MinRangeTicks <= 0 {
		cfg.Engine.MinRangeTicks = 10
	}
	if cfg.Engine.MaxRangeTicks <= 0 {
		cfg.Engine.MaxRangeTicks = 200_000
	}
	if cfg.Engine.PollIntervalMillis <= 0 {
		cfg.Engine.PollIntervalMillis = 3000
	}
	if cfg.Storage.StatePath == "" {
		cfg.Storage.StatePath = "data/state.json"
	}
	if cfg.Storage.BackupsDir == "" {
		cfg.Storage.BackupsDir = "data/backups"
	}
	if cfg.Storage.LedgerDSN == "" {
		cfg.Storage.LedgerDSN = "rangebot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
