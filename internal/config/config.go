// Package config loads the wifid configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mdlayher/wifictl/internal/mangle"
	"github.com/mdlayher/wifictl/internal/nlattr"
	"github.com/mdlayher/wifictl/internal/notify"
	"github.com/mdlayher/wifictl/internal/scan"
	"github.com/mdlayher/wifictl/internal/vif"
	"github.com/mdlayher/wifictl/radio/sim"
	"github.com/mdlayher/wifictl/wifitypes"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables overriding configuration
// keys, such as WIFID_SOCKET_PATH for socket.path.
const EnvPrefix = "WIFID"

// Config is the complete wifid configuration.
type Config struct {
	Socket    Socket    `mapstructure:"socket"`
	Codec     Codec     `mapstructure:"codec"`
	Scan      Scan      `mapstructure:"scan"`
	Associate Associate `mapstructure:"associate"`
	Radio     Radio     `mapstructure:"radio"`
	Notify    Notify    `mapstructure:"notify"`
	Metrics   Metrics   `mapstructure:"metrics"`
	Log       Log       `mapstructure:"log"`
	Sim       Sim       `mapstructure:"sim"`
	Mangle    Mangle    `mapstructure:"mangle"`
}

// Socket configures the control socket.
type Socket struct {
	Path string `mapstructure:"path"`

	// Rate is the sustained requests per second of one session; zero
	// disables limiting. Burst is the number of requests allowed at once.
	Rate  float64 `mapstructure:"rate"`
	Burst int     `mapstructure:"burst"`
}

// Codec configures attribute decoding.
type Codec struct {
	Strict   bool `mapstructure:"strict"`
	MaxDepth int  `mapstructure:"max_depth"`
}

// Scan configures the scan coordinator.
type Scan struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Associate configures association attempts.
type Associate struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Radio configures calls to the radio.
type Radio struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// Notify configures notification fan-out.
type Notify struct {
	QueueLen int `mapstructure:"queue_len"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// Log configures logging.
type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`

	// File, when set, receives logs instead of standard error and is
	// rotated once it reaches MaxSizeMB.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Sim configures the simulated radio.
type Sim struct {
	Wiphys    []SimWiphy    `mapstructure:"wiphys"`
	Networks  []sim.Network `mapstructure:"networks"`
	ScanDelay time.Duration `mapstructure:"scan_delay"`
}

// A SimWiphy is a simulated radio present at startup.
type SimWiphy struct {
	Index int    `mapstructure:"index"`
	Name  string `mapstructure:"name"`
}

// Mangle configures the packet-mutation extension.
type Mangle struct {
	Variant string `mapstructure:"variant"`
}

// SetDefaults registers the default value of every key with v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("socket.path", "/run/wifid.sock")
	v.SetDefault("socket.rate", 0)
	v.SetDefault("socket.burst", 16)
	v.SetDefault("codec.strict", false)
	v.SetDefault("codec.max_depth", nlattr.DefaultMaxDepth)
	v.SetDefault("scan.timeout", scan.DefaultTimeout)
	v.SetDefault("associate.timeout", vif.DefaultAssociateTimeout)
	v.SetDefault("radio.timeout", vif.DefaultRadioTimeout)
	v.SetDefault("notify.queue_len", notify.DefaultQueueLen)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.compress", false)
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("sim.wiphys", []map[string]interface{}{{"index": 0, "name": "phy0"}})
	v.SetDefault("sim.scan_delay", 100*time.Millisecond)
	v.SetDefault("mangle.variant", mangle.Normal.String())
}

// Load reads the configuration from the YAML file at path, if path is not
// empty, and from WIFID_ environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %q: %w", path, err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: failed to decode: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports every invalid setting of c.
func (c *Config) Validate() error {
	var errs []error

	if c.Socket.Path == "" {
		errs = append(errs, errors.New("socket.path must be set"))
	}
	if c.Socket.Rate < 0 {
		errs = append(errs, fmt.Errorf("socket.rate must not be negative: %v", c.Socket.Rate))
	}
	if c.Codec.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("codec.max_depth must be positive: %d", c.Codec.MaxDepth))
	}
	for key, d := range map[string]time.Duration{
		"scan.timeout":      c.Scan.Timeout,
		"associate.timeout": c.Associate.Timeout,
		"radio.timeout":     c.Radio.Timeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive: %v", key, d))
		}
	}
	if _, err := mangle.ParseVariant(c.Mangle.Variant); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[int]bool)
	for _, w := range c.Sim.Wiphys {
		if seen[w.Index] {
			errs = append(errs, fmt.Errorf("sim.wiphys: duplicate index %d", w.Index))
		}
		seen[w.Index] = true
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: invalid configuration: %w", err)
	}

	return nil
}

// SimConfig returns the simulated radio configuration.
func (c *Config) SimConfig() sim.Config {
	cfg := sim.Config{
		Networks:  c.Sim.Networks,
		ScanDelay: c.Sim.ScanDelay,
	}
	for _, w := range c.Sim.Wiphys {
		name := w.Name
		if name == "" {
			name = fmt.Sprintf("phy%d", w.Index)
		}
		cfg.Wiphys = append(cfg.Wiphys, wifitypes.Wiphy{Index: w.Index, Name: name})
	}

	return cfg
}

// Variant returns the configured packet-mutation variant.
func (c *Config) Variant() mangle.Variant {
	// Validate has already rejected unknown variants.
	v, _ := mangle.ParseVariant(c.Mangle.Variant)
	return v
}
