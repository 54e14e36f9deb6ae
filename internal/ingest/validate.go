package ingest

import (
	"encoding/json"

	"github.com/lox/commutewatch/internal/extract"
)

const (
	FlagDurationImplausible = "duration_implausible"
	FlagDurationMissing     = "duration_missing"
	FlagFallbackTier        = "fallback_tier"
)

// MaxPlausibleMinutes bounds a single commute. Anything longer is almost
// certainly a misread (a date, a distance) and is stored as null.
const MaxPlausibleMinutes = 24 * 60

// ValidateResult returns quality flags for an extraction. Callers null the
// duration when FlagDurationImplausible is present.
func ValidateResult(res *extract.Result) []string {
	var flags []string

	if !res.Minutes.Valid {
		flags = append(flags, FlagDurationMissing)
	} else if res.Minutes.Float64 > MaxPlausibleMinutes {
		flags = append(flags, FlagDurationImplausible)
	}

	if res.Minutes.Valid && res.Degraded() {
		flags = append(flags, FlagFallbackTier)
	}

	return flags
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
