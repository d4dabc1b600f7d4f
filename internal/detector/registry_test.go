package detector_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northboundlabs/botshield/internal/detector"
	"github.com/northboundlabs/botshield/internal/signal"
)

type stubDetector struct {
	name string
}

func (s stubDetector) Name() string                  { return s.name }
func (s stubDetector) Wave() int                      { return 0 }
func (s stubDetector) Priority() int                  { return 0 }
func (s stubDetector) Triggers() []signal.Pattern     { return nil }
func (s stubDetector) Emitted() []signal.Key          { return nil }
func (s stubDetector) Timeout() time.Duration         { return time.Millisecond }
func (s stubDetector) ContributeAsync(context.Context, detector.State) ([]detector.Contribution, error) {
	return nil, nil
}

func TestRegistry_DetectorsForPolicy_OrdersByWaveThenPriority(t *testing.T) {
	r := detector.NewRegistry()
	r.Register(detector.Manifest{Name: "wave1-low", Wave: 1, Priority: 5, Enabled: true}, stubDetector{"wave1-low"})
	r.Register(detector.Manifest{Name: "wave0-high", Wave: 0, Priority: 10, Enabled: true}, stubDetector{"wave0-high"})
	r.Register(detector.Manifest{Name: "wave0-low", Wave: 0, Priority: 1, Enabled: true}, stubDetector{"wave0-low"})
	r.Register(detector.Manifest{Name: "disabled", Wave: 0, Priority: 0, Enabled: false}, stubDetector{"disabled"})

	ordered := r.DetectorsForPolicy([]string{"wave1-low", "wave0-high", "wave0-low", "disabled", "unknown"})
	require.Len(t, ordered, 3)
	assert.Equal(t, "wave0-low", ordered[0].Name())
	assert.Equal(t, "wave0-high", ordered[1].Name())
	assert.Equal(t, "wave1-low", ordered[2].Name())
}

func TestRegistry_ValidateNames_AllRequiredResolvedIsFine(t *testing.T) {
	r := detector.NewRegistry()
	r.Register(detector.Manifest{Name: "present", Enabled: true, Required: true}, stubDetector{"present"})
	r.Register(detector.Manifest{Name: "optional", Enabled: true, Required: false}, stubDetector{"optional"})

	assert.NoError(t, r.ValidateNames())
}

func TestRegistry_ValidateNames_DeclaredRequiredWithoutImplementationIsPolicyConfigError(t *testing.T) {
	r := detector.NewRegistry()
	r.RegisterManifest(detector.Manifest{Name: "declared-but-unwired", Enabled: true, Required: true})

	err := r.ValidateNames()
	require.Error(t, err)
}

func TestRegistry_ValidateNames_DisabledRequiredManifestIsNotFatal(t *testing.T) {
	r := detector.NewRegistry()
	r.RegisterManifest(detector.Manifest{Name: "declared-but-disabled", Enabled: false, Required: true})

	assert.NoError(t, r.ValidateNames())
}
