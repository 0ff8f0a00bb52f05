package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// CollectionConfig tunes aging buckets and reminder cadence without a redeploy.
type CollectionConfig struct {
	AgingBuckets   []AgingBucket   `mapstructure:"agingBuckets"`
	ReminderStages []ReminderStage `mapstructure:"reminderStages"`
}

// AgingBucket classifies an invoice by days overdue. MaxDays nil means open-ended.
type AgingBucket struct {
	Label   string `mapstructure:"label"`
	Color   string `mapstructure:"color"`
	MinDays int    `mapstructure:"minDays"`
	MaxDays *int   `mapstructure:"maxDays"`
}

// ReminderStage schedules an outbound email relative to the invoice due date.
// Negative OffsetDays means before due, positive after.
type ReminderStage struct {
	Stage      string `mapstructure:"stage"`
	OffsetDays int    `mapstructure:"offsetDays"`
	Subject    string `mapstructure:"subject"`
}

func DefaultCollectionConfig() CollectionConfig {
	return CollectionConfig{
		AgingBuckets: []AgingBucket{
			{Label: "current", Color: "green", MinDays: 0, MaxDays: intPtr(0)},
			{Label: "1-14", Color: "yellow", MinDays: 1, MaxDays: intPtr(14)},
			{Label: "15-44", Color: "orange", MinDays: 15, MaxDays: intPtr(44)},
			{Label: "45+", Color: "red", MinDays: 45, MaxDays: nil},
		},
		ReminderStages: []ReminderStage{
			{Stage: "upcoming", OffsetDays: -3, Subject: "Invoice due soon"},
			{Stage: "due", OffsetDays: 0, Subject: "Invoice due today"},
			{Stage: "overdue", OffsetDays: 7, Subject: "Invoice overdue"},
			{Stage: "final", OffsetDays: 21, Subject: "Final payment notice"},
		},
	}
}

func intPtr(v int) *int { return &v }

// BucketFor returns the aging bucket covering the given days overdue.
func (c CollectionConfig) BucketFor(daysOverdue int) AgingBucket {
	if daysOverdue < 0 {
		daysOverdue = 0
	}
	for _, b := range c.AgingBuckets {
		if daysOverdue < b.MinDays {
			continue
		}
		if b.MaxDays == nil || daysOverdue <= *b.MaxDays {
			return b
		}
	}
	if len(c.AgingBuckets) > 0 {
		return c.AgingBuckets[len(c.AgingBuckets)-1]
	}
	return AgingBucket{Label: "unknown", Color: "green"}
}

type CollectionConfigHolder struct {
	current atomic.Value // holds CollectionConfig
}

// NewStaticCollectionConfigHolder wraps a fixed config, bypassing file
// discovery and hot reload.
func NewStaticCollectionConfigHolder(cfg CollectionConfig) *CollectionConfigHolder {
	holder := &CollectionConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewCollectionConfigHolder() (*CollectionConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("collection")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/collectra/config") // Volume-mounted config
	v.AddConfigPath("/etc/collectra")            // System config
	v.AddConfigPath(".")                         // Current directory (dev mode)

	// env hanya untuk path override (optional)
	v.SetEnvPrefix("COLLECTRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// if config file not found, use defaults
		defaults := DefaultCollectionConfig()
		v.SetDefault("collection.agingBuckets", defaults.AgingBuckets)
		v.SetDefault("collection.reminderStages", defaults.ReminderStages)
	}

	var cfg CollectionConfig
	if err := v.UnmarshalKey("collection", &cfg); err != nil {
		return nil, err
	}
	if err := validateCollectionConfig(cfg); err != nil {
		return nil, err
	}

	holder := &CollectionConfigHolder{}
	holder.current.Store(cfg)

	// 🔥 HOT RELOAD
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated CollectionConfig
		if err := v.UnmarshalKey("collection", &updated); err != nil {
			log.Printf("[collection-config] reload failed: %v", err)
			return
		}
		if err := validateCollectionConfig(updated); err != nil {
			log.Printf("[collection-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[collection-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *CollectionConfigHolder) Get() CollectionConfig {
	return h.current.Load().(CollectionConfig)
}

func validateCollectionConfig(cfg CollectionConfig) error {
	if len(cfg.AgingBuckets) == 0 {
		return errors.New("collection.agingBuckets cannot be empty")
	}
	if len(cfg.ReminderStages) == 0 {
		return errors.New("collection.reminderStages cannot be empty")
	}
	return nil
}
