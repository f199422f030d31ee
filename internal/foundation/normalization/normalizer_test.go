package normalization

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type mode string

const (
	modeOff    mode = "off"
	modeHidden mode = "hidden_on"
	modeShown  mode = "shown_on"
)

func newModeNormalizer() *Normalizer[mode] {
	return NewNormalizer("mode", map[string]mode{
		"off":       modeOff,
		"hidden_on": modeHidden,
		"shown-on":  modeShown,
	}, modeOff)
}

func TestNormalizeFoldsSeparatorsAndCase(t *testing.T) {
	n := newModeNormalizer()
	require.Equal(t, modeHidden, n.Normalize("  Hidden-On "))
	require.Equal(t, modeShown, n.Normalize("shown on"))
	require.Equal(t, modeShown, n.Normalize("SHOWN_ON"))
	require.Equal(t, modeOff, n.Normalize("bogus"))
}

func TestNormalizeWithError(t *testing.T) {
	n := newModeNormalizer()

	v, err := n.NormalizeWithError("")
	require.NoError(t, err)
	require.Equal(t, modeOff, v)

	_, err = n.NormalizeWithError("sideways")
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid mode")
	require.Contains(t, err.Error(), "hidden_on")
	require.Equal(t, []string{"hidden_on", "off", "shown_on"}, n.ValidKeys())
}
