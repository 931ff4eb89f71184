package config

import (
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// TierTable maps processor price ids to membership tiers. It backs the last
// step of the tier resolution chain for prices created before tier metadata
// was introduced.
type TierTable struct {
	Prices map[string]string `mapstructure:"prices"`
}

// Resolve returns the tier configured for a price id, or "" when unmapped.
func (t TierTable) Resolve(priceID string) string {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(t.Prices[priceID]))
}

// TierTableHolder exposes a hot-reloadable snapshot of the tier table.
type TierTableHolder struct {
	current atomic.Value // holds TierTable
}

// NewTierTableHolder loads tiers.yml and watches it for changes. A missing
// file is not an error: the table is simply empty and tier resolution ends
// at "unknown".
func NewTierTableHolder() (*TierTableHolder, error) {
	v := viper.New()

	v.SetConfigName("tiers")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/membersync/config") // Volume-mounted config
	v.AddConfigPath("/etc/membersync")            // System config
	v.AddConfigPath(".")                          // Current directory (dev mode)

	v.SetEnvPrefix("MEMBERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	holder := &TierTableHolder{}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		holder.current.Store(TierTable{})
		return holder, nil
	}

	var table TierTable
	if err := v.UnmarshalKey("tiers", &table); err != nil {
		return nil, err
	}
	holder.current.Store(normalizeTierTable(table))

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated TierTable
		if err := v.UnmarshalKey("tiers", &updated); err != nil {
			log.Printf("[tier-config] reload failed: %v", err)
			return
		}
		holder.current.Store(normalizeTierTable(updated))
		log.Printf("[tier-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticTierTableHolder wraps a fixed table, bypassing file watching.
func NewStaticTierTableHolder(table TierTable) *TierTableHolder {
	holder := &TierTableHolder{}
	holder.current.Store(normalizeTierTable(table))
	return holder
}

// Get returns the current tier table snapshot.
func (h *TierTableHolder) Get() TierTable {
	return h.current.Load().(TierTable)
}

func normalizeTierTable(table TierTable) TierTable {
	normalized := TierTable{Prices: map[string]string{}}
	for priceID, tier := range table.Prices {
		priceID = strings.TrimSpace(priceID)
		tier = strings.ToLower(strings.TrimSpace(tier))
		if priceID == "" || tier == "" {
			continue
		}
		normalized.Prices[priceID] = tier
	}
	return normalized
}
