package model

import "time"

// Buildup classifies open-interest and price co-movement.
type Buildup string

const (
	BuildupLong          Buildup = "LONG_BUILDUP"
	BuildupShort         Buildup = "SHORT_BUILDUP"
	BuildupShortCovering Buildup = "SHORT_COVERING"
	BuildupLongUnwinding Buildup = "LONG_UNWINDING"
	BuildupNeutral       Buildup = "NEUTRAL"
)

// ParseBuildup accepts both the enum form and the human form
// ("Long Buildup", "short covering", ...). Unknown values map to "".
func ParseBuildup(s string) Buildup {
	switch normalize(s) {
	case "LONGBUILDUP", "LONGBUILD":
		return BuildupLong
	case "SHORTBUILDUP", "SHORTBUILD":
		return BuildupShort
	case "SHORTCOVERING", "SHORTCOVER":
		return BuildupShortCovering
	case "LONGUNWINDING", "LONGUNWIND":
		return BuildupLongUnwinding
	case "NEUTRAL":
		return BuildupNeutral
	}
	return ""
}

func normalize(s string) string {
	b := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
			b = append(b, c-32)
		case c >= 'A' && c <= 'Z':
			b = append(b, c)
		}
	}
	return string(b)
}

// ClassifyBuildup derives a Buildup from the change in price and open interest.
func ClassifyBuildup(priceChange, oiChange float64) Buildup {
	switch {
	case priceChange > 0 && oiChange > 0:
		return BuildupLong
	case priceChange < 0 && oiChange > 0:
		return BuildupShort
	case priceChange < 0 && oiChange < 0:
		return BuildupLongUnwinding
	case priceChange > 0 && oiChange < 0:
		return BuildupShortCovering
	}
	return BuildupNeutral
}

// Sentiment is the context supplied to detectors at a candle boundary.
// A zero PCR means "unknown"; detectors treat it as 1.0.
type Sentiment struct {
	PCR     float64 `json:"pcr"`
	Buildup Buildup `json:"buildup"`
}

// PCROrDefault returns PCR, or 1.0 when unknown.
func (s Sentiment) PCROrDefault() float64 {
	if s.PCR <= 0 {
		return 1.0
	}
	return s.PCR
}

// BuildupIn reports whether the buildup is one of bs.
func (s Sentiment) BuildupIn(bs ...Buildup) bool {
	for _, b := range bs {
		if s.Buildup == b {
			return true
		}
	}
	return false
}

// PCRPoint is one stored sentiment observation.
type PCRPoint struct {
	TS      time.Time `json:"ts"`
	PCR     float64   `json:"pcr"`
	Buildup Buildup   `json:"buildup"`
}
