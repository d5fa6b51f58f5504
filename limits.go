package keypager

const (
	NoLimit      = -1
	MaxLimit     = 100
	DefaultLimit = 10
)

// IsNormalizedLimitMax normalizes a limit against maxLimit and reports whether
// the input was already within range. Non-positive limits normalize to
// DefaultLimit, limits above maxLimit are clamped to maxLimit.
func IsNormalizedLimitMax(limit int, maxLimit int) (int, bool) {
	if limit <= 0 {
		return DefaultLimit, false
	} else if limit > maxLimit {
		return maxLimit, false
	}

	return limit, true
}

func NormalizeLimitMax(limit int, maxLimit int) int {
	ret, _ := IsNormalizedLimitMax(limit, maxLimit)
	return ret
}

// NormalizeLimit normalizes a limit against MaxLimit. Values above MaxLimit
// are clamped, never rejected.
func NormalizeLimit(limit int) int {
	return NormalizeLimitMax(limit, MaxLimit)
}
