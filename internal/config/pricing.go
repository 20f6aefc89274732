package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PricingConfig defines ticket economics: what each generation kind costs
// and how large the free grants are.
type PricingConfig struct {
	Costs        map[string]int64 `mapstructure:"costs"`
	SignupBonus  int64            `mapstructure:"signupBonus"`
	DailyBonus   int64            `mapstructure:"dailyBonus"`
	DefaultKind  string           `mapstructure:"defaultKind"`
	AllowedKinds []string         `mapstructure:"allowedKinds"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Costs: map[string]int64{
			"image": 1,
			"video": 3,
		},
		SignupBonus:  3,
		DailyBonus:   1,
		DefaultKind:  "image",
		AllowedKinds: []string{"image", "video"},
	}
}

// CostFor returns the ticket cost for a generation kind.
func (c PricingConfig) CostFor(kind string) (int64, bool) {
	cost, ok := c.Costs[strings.ToLower(strings.TrimSpace(kind))]
	return cost, ok
}

// PricingHolder serves the current pricing config and hot-reloads it when
// the backing file changes.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/renderbank/config")
	v.AddConfigPath("/etc/renderbank")
	v.AddConfigPath(".")

	v.SetEnvPrefix("RENDERBANK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	useDefaults := false
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		useDefaults = true
	}

	cfg := DefaultPricingConfig()
	if !useDefaults {
		if err := v.UnmarshalKey("pricing", &cfg); err != nil {
			return nil, err
		}
		if err := validatePricingConfig(cfg); err != nil {
			return nil, err
		}
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultPricingConfig()
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *PricingHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// NewStaticPricingHolder wraps a fixed config, for tests.
func NewStaticPricingHolder(cfg PricingConfig) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(cfg)
	return holder
}

func validatePricingConfig(cfg PricingConfig) error {
	if len(cfg.Costs) == 0 {
		return errors.New("pricing.costs cannot be empty")
	}
	for kind, cost := range cfg.Costs {
		if cost < 1 {
			return errors.New("pricing.costs." + kind + " must be at least 1")
		}
	}
	if cfg.SignupBonus < 0 || cfg.DailyBonus < 0 {
		return errors.New("pricing bonuses cannot be negative")
	}
	return nil
}
