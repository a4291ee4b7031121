package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/hindsight/internal/domain"
)

func TestFingerprintDefaults(t *testing.T) {
	assert.Equal(t, "14", Fingerprint("RSI", nil))
	assert.Equal(t, "12-26-9", Fingerprint("MACD", nil))
	assert.Equal(t, "14-3", Fingerprint("STOCH_K", nil))
	assert.Equal(t, "", Fingerprint("NOT_A_THING", nil))
}

func TestFingerprintCustomParams(t *testing.T) {
	fp := Fingerprint("MACD", map[string]int{"fast": 8, "slow": 21, "signal": 5})
	assert.Equal(t, "8-21-5", fp)

	// Missing params fall back per position, not wholesale.
	fp = Fingerprint("MACD", map[string]int{"slow": 50})
	assert.Equal(t, "12-50-9", fp)
}

func TestFingerprintRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]int
	}{
		{"RSI", map[string]int{"period": 21}},
		{"SMA", map[string]int{"period": 200}},
		{"MACD", map[string]int{"fast": 12, "slow": 26, "signal": 9}},
		{"STOCH_K", map[string]int{"fastk": 10, "slowk": 4}},
		{"AROON_OSC", map[string]int{"period": 25}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fp := Fingerprint(tc.name, tc.params)
			parsed, err := ParseFingerprint(tc.name, fp)
			require.NoError(t, err)
			assert.Equal(t, fp, Fingerprint(tc.name, parsed))
		})
	}
}

func TestParseFingerprintRejectsArityMismatch(t *testing.T) {
	_, err := ParseFingerprint("MACD", "12-26")
	assert.Error(t, err)

	_, err = ParseFingerprint("RSI", "14-3")
	assert.Error(t, err)
}

func TestLegacyFingerprintStripsDashes(t *testing.T) {
	assert.Equal(t, "12269", LegacyFingerprint("MACD", nil))
	// Single-parameter indicators have identical legacy and canonical forms.
	assert.Equal(t, Fingerprint("RSI", nil), LegacyFingerprint("RSI", nil))
}

func TestRefFingerprintNormalizesAliases(t *testing.T) {
	ref := domain.IndicatorRef{Ticker: "SPY", Name: "bollinger", Params: map[string]int{"period": 20}}
	assert.Equal(t, "20", RefFingerprint(ref))
}

func TestCacheKeyFormat(t *testing.T) {
	key := CacheKey("SPY", "RSI", "14", "2024-03-01")
	assert.Equal(t, "indicator:SPY:RSI:14:2024-03-01", key)
}

func TestNormalizeNameAliases(t *testing.T) {
	assert.Equal(t, "BBANDS_UPPER", NormalizeName("bollinger-upper"))
	assert.Equal(t, "RETURN", NormalizeName("Cumulative Return"))
	assert.Equal(t, "STOCH_K", NormalizeName("stoch"))
	assert.Equal(t, "RSI", NormalizeName(" rsi "))
}

func TestBaseWarmup(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]int
		want   int
	}{
		{"RSI", nil, 14},
		{"SMA", map[string]int{"period": 200}, 200},
		{"MACD", nil, 35},  // slow + signal
		{"PPO", nil, 26},   // slow only
		{"BBANDS_MID", nil, 22},
		{"STOCH_K", nil, 17},
		{"AROON_UP", nil, 50},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BaseWarmup(tc.name, tc.params))
		})
	}
}

func TestNormalizeFillsDefaults(t *testing.T) {
	name, params := Normalize(domain.IndicatorRef{Name: "macd", Params: map[string]int{"fast": 8}})
	assert.Equal(t, "MACD", name)
	assert.Equal(t, map[string]int{"fast": 8, "slow": 26, "signal": 9}, params)
}
