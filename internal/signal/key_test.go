package signal_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/northboundlabs/botshield/internal/signal"
)

func TestPattern_Match(t *testing.T) {
	tests := []struct {
		name    string
		pattern signal.Pattern
		key     signal.Key
		want    bool
	}{
		{"exact", "transport.is_streaming", "transport.is_streaming", true},
		{"exact_mismatch", "transport.is_streaming", "transport.is_tunneled", false},
		{"single_star", "transport.*", "transport.is_streaming", true},
		{"single_star_too_deep", "transport.*", "transport.tcp.window", false},
		{"double_star_any_depth", "transport.**", "transport.tcp.window", true},
		{"double_star_zero_depth", "transport.**", "transport", true},
		{"double_star_prefix", "**.aberration", "signature.behavior.aberration", true},
		{"no_match_prefix", "reputation.*", "transport.is_streaming", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pattern.Match(tt.key))
		})
	}
}

func TestKey_Segments(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, signal.NewKey("a", "b", "c").Segments())
	assert.Nil(t, signal.Key("").Segments())
}
