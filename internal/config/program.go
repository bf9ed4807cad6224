package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ProgramConfig holds the reward program parameters. The cadence and cycle cap
// are deliberately configuration, not code: product owns these values.
type ProgramConfig struct {
	// MaxCycles caps how many earnings a single converted referral can emit.
	MaxCycles int `mapstructure:"maxCycles"`
	// CycleIntervalDays is the spacing between consecutive earning due dates.
	CycleIntervalDays int `mapstructure:"cycleIntervalDays"`
	// EarningAmountCents is the fixed per-cycle reward, in cents.
	EarningAmountCents int64 `mapstructure:"earningAmountCents"`
	// Currency is informational only; the program pays out in a single currency.
	Currency string `mapstructure:"currency"`
}

func DefaultProgramConfig() ProgramConfig {
	return ProgramConfig{
		MaxCycles:          6,
		CycleIntervalDays:  30,
		EarningAmountCents: 5000,
		Currency:           "KES",
	}
}

func (c ProgramConfig) CycleInterval() time.Duration {
	return time.Duration(c.CycleIntervalDays) * 24 * time.Hour
}

// ProgramConfigHolder exposes the current program parameters with hot reload.
type ProgramConfigHolder struct {
	current atomic.Value // holds ProgramConfig
}

func NewProgramConfigHolder() (*ProgramConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("program")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/referral/config")
	v.AddConfigPath("/etc/referral")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REFERRAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultProgramConfig()
		v.SetDefault("program.maxCycles", defaults.MaxCycles)
		v.SetDefault("program.cycleIntervalDays", defaults.CycleIntervalDays)
		v.SetDefault("program.earningAmountCents", defaults.EarningAmountCents)
		v.SetDefault("program.currency", defaults.Currency)
	}

	var cfg ProgramConfig
	if err := v.UnmarshalKey("program", &cfg); err != nil {
		return nil, err
	}
	if err := validateProgramConfig(cfg); err != nil {
		return nil, err
	}

	holder := &ProgramConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated ProgramConfig
		if err := v.UnmarshalKey("program", &updated); err != nil {
			log.Printf("[program-config] reload failed: %v", err)
			return
		}
		if err := validateProgramConfig(updated); err != nil {
			log.Printf("[program-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[program-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *ProgramConfigHolder) Get() ProgramConfig {
	return h.current.Load().(ProgramConfig)
}

// NewStaticProgramConfigHolder is a test helper that skips file watching.
func NewStaticProgramConfigHolder(cfg ProgramConfig) *ProgramConfigHolder {
	holder := &ProgramConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func validateProgramConfig(cfg ProgramConfig) error {
	if cfg.MaxCycles <= 0 {
		return errors.New("program.maxCycles must be positive")
	}
	if cfg.CycleIntervalDays <= 0 {
		return errors.New("program.cycleIntervalDays must be positive")
	}
	if cfg.EarningAmountCents <= 0 {
		return errors.New("program.earningAmountCents must be positive")
	}
	return nil
}
