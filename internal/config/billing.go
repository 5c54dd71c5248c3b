package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingRules are operator-tunable billing policies. The minimum charge is
// the smallest positive amount the gateway will bill; anything between zero
// and this floor is rejected rather than invoiced.
type BillingRules struct {
	MinimumCharge   float64 `mapstructure:"minimumCharge"`
	ChangeDeferDays int     `mapstructure:"changeDeferDays"`
}

func DefaultBillingRules() BillingRules {
	return BillingRules{
		MinimumCharge:   5.00,
		ChangeDeferDays: 0,
	}
}

// BillingRulesHolder keeps the active rules behind an atomic so a config
// reload never races an in-flight plan change.
type BillingRulesHolder struct {
	current atomic.Value // holds BillingRules
}

func NewBillingRulesHolder() (*BillingRulesHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/billing/config")
	v.AddConfigPath("/etc/billing")
	v.AddConfigPath(".")

	v.SetEnvPrefix("BILLING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingRules()
	v.SetDefault("billing.minimumCharge", defaults.MinimumCharge)
	v.SetDefault("billing.changeDeferDays", defaults.ChangeDeferDays)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var rules BillingRules
	if err := v.UnmarshalKey("billing", &rules); err != nil {
		return nil, err
	}
	if err := validateBillingRules(rules); err != nil {
		return nil, err
	}

	holder := &BillingRulesHolder{}
	holder.current.Store(rules)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingRules
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-config] reload failed: %v", err)
			return
		}
		if err := validateBillingRules(updated); err != nil {
			log.Printf("[billing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *BillingRulesHolder) Get() BillingRules {
	return h.current.Load().(BillingRules)
}

// NewStaticBillingRules builds a holder with fixed rules, for tests.
func NewStaticBillingRules(rules BillingRules) *BillingRulesHolder {
	holder := &BillingRulesHolder{}
	holder.current.Store(rules)
	return holder
}

func validateBillingRules(rules BillingRules) error {
	if rules.MinimumCharge < 0 {
		return errors.New("billing.minimumCharge cannot be negative")
	}
	if rules.ChangeDeferDays < 0 {
		return errors.New("billing.changeDeferDays cannot be negative")
	}
	return nil
}
