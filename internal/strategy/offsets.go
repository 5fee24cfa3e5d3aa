package strategy

import "strings"

// Offset is a point distance below (stop) and above (target) the entry.
type Offset struct {
	SL     float64 `yaml:"sl" json:"sl"`
	Target float64 `yaml:"target" json:"target"`
}

// Offsets maps instrument classes (symbol prefixes) to stop/target points.
type Offsets struct {
	Classes map[string]Offset
	Default Offset
}

// DefaultOffsets: 30/60 for BANKNIFTY, 20/40 for everything else.
func DefaultOffsets() Offsets {
	return Offsets{
		Classes: map[string]Offset{"BANKNIFTY": {SL: 30, Target: 60}},
		Default: Offset{SL: 20, Target: 40},
	}
}

// For returns the offset for symbol. The longest matching class prefix wins.
func (o Offsets) For(symbol string) Offset {
	s := strings.ToUpper(symbol)
	best, bestLen := o.Default, -1
	for class, off := range o.Classes {
		if strings.HasPrefix(s, strings.ToUpper(class)) && len(class) > bestLen {
			best, bestLen = off, len(class)
		}
	}
	return best
}
