package config

import (
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// LedgerPolicy holds tunables that product may change without a deploy.
type LedgerPolicy struct {
	// LowBalancePercent is the share of a user's credit threshold at or
	// below which the balance counts as low.
	LowBalancePercent int `mapstructure:"lowBalancePercent"`
	// MaxGracePeriodDays bounds admin-set grace periods.
	MaxGracePeriodDays int `mapstructure:"maxGracePeriodDays"`
	// SignatureTolerance rejects webhook signatures older than this. Zero disables.
	SignatureTolerance time.Duration `mapstructure:"signatureTolerance"`
}

func DefaultLedgerPolicy() LedgerPolicy {
	return LedgerPolicy{
		LowBalancePercent:  10,
		MaxGracePeriodDays: 90,
		SignatureTolerance: 5 * time.Minute,
	}
}

// PolicyHolder serves the current LedgerPolicy and swaps it on file change.
type PolicyHolder struct {
	current atomic.Value // holds LedgerPolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(policy LedgerPolicy) *PolicyHolder {
	holder := &PolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	if cfg.PolicyPath != "" {
		if _, err := os.Stat(cfg.PolicyPath); errors.Is(err, os.ErrNotExist) {
			log.Info("ledger policy file not found, using defaults", zap.String("file", cfg.PolicyPath))
			return NewStaticPolicyHolder(DefaultLedgerPolicy()), nil
		}
		v.SetConfigFile(cfg.PolicyPath)
	} else {
		v.SetConfigName("ledger")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/creditledger")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CREDITLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultLedgerPolicy()
	v.SetDefault("ledger.lowBalancePercent", defaults.LowBalancePercent)
	v.SetDefault("ledger.maxGracePeriodDays", defaults.MaxGracePeriodDays)
	v.SetDefault("ledger.signatureTolerance", defaults.SignatureTolerance)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	policy, err := decodePolicy(v)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePolicy(v)
		if err != nil {
			log.Warn("ledger policy reload ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("ledger policy reloaded",
			zap.String("file", e.Name),
			zap.Int("low_balance_percent", updated.LowBalancePercent),
		)
	})

	return holder, nil
}

func (h *PolicyHolder) Get() LedgerPolicy {
	if h == nil {
		return DefaultLedgerPolicy()
	}
	return h.current.Load().(LedgerPolicy)
}

func decodePolicy(v *viper.Viper) (LedgerPolicy, error) {
	var policy LedgerPolicy
	if err := v.UnmarshalKey("ledger", &policy); err != nil {
		return LedgerPolicy{}, err
	}
	if err := validatePolicy(policy); err != nil {
		return LedgerPolicy{}, err
	}
	return policy, nil
}

func validatePolicy(policy LedgerPolicy) error {
	if policy.LowBalancePercent < 0 || policy.LowBalancePercent > 100 {
		return errors.New("ledger.lowBalancePercent must be within 0..100")
	}
	if policy.MaxGracePeriodDays <= 0 {
		return errors.New("ledger.maxGracePeriodDays must be positive")
	}
	if policy.SignatureTolerance < 0 {
		return errors.New("ledger.signatureTolerance cannot be negative")
	}
	return nil
}
