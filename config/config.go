package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa del journal.
type Config struct {
	Sync           SyncConfig           `yaml:"sync"`
	Reconstruction ReconstructionConfig `yaml:"reconstruction"`
	Pricing        PricingConfig        `yaml:"pricing"`
	Venues         VenuesConfig         `yaml:"venues"`
	Accounts       []AccountConfig      `yaml:"accounts"`
	Storage        StorageConfig        `yaml:"storage"`
	Log            LogConfig            `yaml:"log"`
}

// SyncConfig controla la ingesta incremental.
type SyncConfig struct {
	Workers        int                `yaml:"workers"`
	OverlapHours   float64            `yaml:"overlap_hours"`
	MaxPages       int                `yaml:"max_pages"`
	PageLimit      int                `yaml:"page_limit"`
	StallLimit     int                `yaml:"stall_limit"`
	RetryAttempts  int                `yaml:"retry_attempts"`
	RetryBaseMS    int                `yaml:"retry_base_ms"`
	RetryMaxMS     int                `yaml:"retry_max_ms"`
	TimeoutSeconds int                `yaml:"timeout_seconds"`
	RatePerVenue   map[string]float64 `yaml:"rate_per_venue"` // req/s compartidos por todas las cuentas de un venue
}

// ReconstructionConfig controla la reconstrucción de trades.
type ReconstructionConfig struct {
	OpenHorizonHours float64 `yaml:"open_horizon_hours"`
}

// PricingConfig controla de dónde salen las velas para excursiones.
type PricingConfig struct {
	// Source mapea venue de trading → venue de precios ("apex": "hyperliquid").
	Source map[string]string `yaml:"source"`
}

// VenuesConfig contiene los base URLs.
type VenuesConfig struct {
	HyperliquidBase string `yaml:"hyperliquid_base"`
	ApexBase        string `yaml:"apex_base"`
	BinanceBase     string `yaml:"binance_base"`
}

// AccountConfig es una cuenta a sincronizar. Los secretos nunca van en el
// YAML: se leen de las variables de entorno nombradas.
type AccountConfig struct {
	Name          string    `yaml:"name"`
	Venue         string    `yaml:"venue"`
	Account       string    `yaml:"account"`
	Datasets      []string  `yaml:"datasets"`      // fills | funding | liquidations | closed_pnl | snapshots; vacío = todos los soportados
	Symbols       []string  `yaml:"symbols"`       // binance: userTrades exige símbolo
	HistoryStart  time.Time `yaml:"history_start"` // binance: inicio de un símbolo sin checkpoint
	APIKeyEnv     string    `yaml:"api_key_env"`
	APISecretEnv  string    `yaml:"api_secret_env"`
	PassphraseEnv string    `yaml:"passphrase_env"`

	APIKey     string `yaml:"-"`
	APISecret  string `yaml:"-"`
	Passphrase string `yaml:"-"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Un path vacío o inexistente arranca solo con defaults y entorno.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// Overlap es la ventana que se vuelve a pedir antes del checkpoint.
func (c *Config) Overlap() time.Duration {
	return time.Duration(c.Sync.OverlapHours * float64(time.Hour))
}

// OpenHorizon es la antigüedad máxima de una posición abierta antes de marcarla.
func (c *Config) OpenHorizon() time.Duration {
	return time.Duration(c.Reconstruction.OpenHorizonHours * float64(time.Hour))
}

// Timeout es el timeout HTTP por request.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Sync.TimeoutSeconds) * time.Second
}

// WantsDataset indica si la cuenta sincroniza el dataset dado.
func (a AccountConfig) WantsDataset(name string) bool {
	if len(a.Datasets) == 0 {
		return true
	}
	for _, d := range a.Datasets {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("JOURNAL_DB"); v != "" {
		cfg.Storage.DSN = v
	}
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		a.APIKey = envOr(a.APIKeyEnv)
		a.APISecret = envOr(a.APISecretEnv)
		a.Passphrase = envOr(a.PassphraseEnv)
	}
}

func envOr(name string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(name))
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Sync.Workers <= 0 {
		cfg.Sync.Workers = 4
	}
	if cfg.Sync.OverlapHours <= 0 {
		cfg.Sync.OverlapHours = 24
	}
	if cfg.Sync.MaxPages <= 0 {
		cfg.Sync.MaxPages = 100
	}
	if cfg.Sync.PageLimit <= 0 {
		cfg.Sync.PageLimit = 500
	}
	if cfg.Sync.StallLimit <= 0 {
		cfg.Sync.StallLimit = 2
	}
	if cfg.Sync.RetryAttempts <= 0 {
		cfg.Sync.RetryAttempts = 4
	}
	if cfg.Sync.RetryBaseMS <= 0 {
		cfg.Sync.RetryBaseMS = 500
	}
	if cfg.Sync.RetryMaxMS <= 0 {
		cfg.Sync.RetryMaxMS = 10_000
	}
	if cfg.Sync.TimeoutSeconds <= 0 {
		cfg.Sync.TimeoutSeconds = 30
	}
	if cfg.Reconstruction.OpenHorizonHours <= 0 {
		cfg.Reconstruction.OpenHorizonHours = 30 * 24
	}
	if cfg.Pricing.Source == nil {
		// ApeX no expone velas: se valora con el mismo subyacente en Hyperliquid.
		cfg.Pricing.Source = map[string]string{"apex": "hyperliquid"}
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "journal.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	for i := range cfg.Accounts {
		a := &cfg.Accounts[i]
		a.Venue = strings.ToLower(strings.TrimSpace(a.Venue))
		if a.Name == "" {
			a.Name = a.Venue + ":" + a.Account
		}
	}
}

func (c *Config) validate() error {
	seen := make(map[string]bool, len(c.Accounts))
	for _, a := range c.Accounts {
		if a.Venue == "" || a.Account == "" {
			return fmt.Errorf("account %q: venue and account are required", a.Name)
		}
		key := a.Venue + ":" + a.Account
		if seen[key] {
			return fmt.Errorf("account %s configured twice", key)
		}
		seen[key] = true
		for _, d := range a.Datasets {
			switch strings.ToLower(d) {
			case "fills", "funding", "liquidations", "closed_pnl", "snapshots":
			default:
				return fmt.Errorf("account %q: unknown dataset %q", a.Name, d)
			}
		}
	}
	return nil
}
