package vehicle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup_knownPlate(t *testing.T) {
	v, err := Lookup("1234567")
	require.NoError(t, err)
	assert.Equal(t, "toyota", v.Make)
	assert.Equal(t, "corolla", v.Model)
	assert.Equal(t, 2022, v.Year)
	assert.Equal(t, "hybrid_sun", v.Trim)
}

func TestLookup_unknownPlateDeterministic(t *testing.T) {
	a, err := Lookup("7000003")
	require.NoError(t, err)
	b, err := Lookup("7000003")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "7000003", a.Plate)
	assert.NotEmpty(t, a.Make)
	assert.GreaterOrEqual(t, a.Year, 2018)
	assert.LessOrEqual(t, a.Year, 2025)
}

func TestLookup_invalidPlates(t *testing.T) {
	for _, plate := range []string{"", "123", "123456789", "12a4567", "1234 67"} {
		_, err := Lookup(plate)
		assert.ErrorIs(t, err, ErrInvalidPlate, "plate %q", plate)
	}
}

func TestLookup_trimsWhitespace(t *testing.T) {
	v, err := Lookup("  1234567 ")
	require.NoError(t, err)
	assert.Equal(t, "1234567", v.Plate)
}
