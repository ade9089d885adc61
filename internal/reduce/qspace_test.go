package reduce

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAngleToQZeroAngle(t *testing.T) {
	q, err := AngleToQ(0, 1.54)
	require.NoError(t, err)
	assert.Zero(t, q)
}

func TestAngleToQKnownValue(t *testing.T) {
	// sin(30°) = 0.5, so with wavelength 4π the prefactor cancels.
	q, err := AngleToQ(30, 4*math.Pi)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, q, 1e-12)
}

func TestAngleToQMonotonic(t *testing.T) {
	prev := -1.0
	for deg := 0.0; deg < 90; deg += 0.5 {
		q, err := AngleToQ(deg, 1.54)
		require.NoError(t, err)
		assert.Greater(t, q, prev, "q must increase at %.1f deg", deg)
		prev = q
	}
}

func TestAngleToQDomain(t *testing.T) {
	cases := []struct {
		name       string
		angle      float64
		wavelength float64
	}{
		{"negative angle", -0.1, 1.54},
		{"ninety degrees", 90, 1.54},
		{"past ninety", 135, 1.54},
		{"nan angle", math.NaN(), 1.54},
		{"zero wavelength", 1.0, 0},
		{"negative wavelength", 1.0, -2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := AngleToQ(tc.angle, tc.wavelength)
			var domErr *DomainError
			require.ErrorAs(t, err, &domErr)
		})
	}
}

func TestWavelengthFromEnergy(t *testing.T) {
	// Cu K-alpha: 8047.8 eV is 1.5406 Angstrom.
	wl, err := WavelengthFromEnergy(8047.8)
	require.NoError(t, err)
	assert.InDelta(t, 1.5406, wl, 1e-4)

	for _, bad := range []float64{0, -250, math.NaN()} {
		_, err := WavelengthFromEnergy(bad)
		var domErr *DomainError
		require.ErrorAs(t, err, &domErr, "energy %v", bad)
	}
}
