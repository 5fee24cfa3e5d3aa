package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"optionscalp/internal/strategy"
)

// StrategyFile is the on-disk shape of the strategy table.
//
//	enabled: [OPTION_BUY_TEST, TREND_FOLLOWING]
//	cooldown: 5m
//	offsets:
//	  default: {sl: 20, target: 40}
//	  classes:
//	    BANKNIFTY: {sl: 30, target: 60}
type StrategyFile struct {
	Enabled  []string `yaml:"enabled"`
	Cooldown string   `yaml:"cooldown"`
	Offsets  struct {
		Default *strategy.Offset           `yaml:"default"`
		Classes map[string]strategy.Offset `yaml:"classes"`
	} `yaml:"offsets"`
}

// Strategies is the parsed strategy table.
type Strategies struct {
	Strategy strategy.Config
	Cooldown time.Duration // zero keeps the trade manager default
}

// LoadStrategies reads the YAML strategy table at path. A missing file
// yields the built-in defaults; a malformed one is an error. Unknown
// detector names are rejected.
func LoadStrategies(path string) (Strategies, error) {
	out := Strategies{Strategy: strategy.Config{Offsets: strategy.DefaultOffsets()}}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] %s not found, using default strategy table", path)
		return out, nil
	}
	if err != nil {
		return out, err
	}
	return ParseStrategies(data)
}

// ParseStrategies decodes a strategy table.
func ParseStrategies(data []byte) (Strategies, error) {
	out := Strategies{Strategy: strategy.Config{Offsets: strategy.DefaultOffsets()}}

	var f StrategyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return out, fmt.Errorf("strategies: %w", err)
	}

	for _, name := range f.Enabled {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name != strategy.TrendFollowing {
			if _, err := strategy.Build(name); err != nil {
				return out, fmt.Errorf("strategies: %w", err)
			}
		}
		out.Strategy.Enabled = append(out.Strategy.Enabled, name)
	}

	if f.Offsets.Default != nil {
		out.Strategy.Offsets.Default = *f.Offsets.Default
	}
	if len(f.Offsets.Classes) > 0 {
		out.Strategy.Offsets.Classes = make(map[string]strategy.Offset, len(f.Offsets.Classes))
		for class, off := range f.Offsets.Classes {
			out.Strategy.Offsets.Classes[strings.ToUpper(class)] = off
		}
	}

	if f.Cooldown != "" {
		d, err := time.ParseDuration(f.Cooldown)
		if err != nil || d < 0 {
			return out, fmt.Errorf("strategies: cooldown %q: invalid duration", f.Cooldown)
		}
		out.Cooldown = d
	}
	return out, nil
}
