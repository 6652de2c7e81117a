package consistency

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	for l := ONE; l <= THREE; l++ {
		parsed, err := Parse(l.String())
		require.NoError(t, err)
		require.Equal(t, l, parsed)
	}
	_, err := Parse("MOST")
	require.Error(t, err)
}

// TestRequired checks the quorum arithmetic the server side uses when collecting replica answers.
func TestRequired(t *testing.T) {
	require.Equal(t, 1, ONE.Required(3))
	require.Equal(t, 2, QUORUM.Required(3))
	require.Equal(t, 3, QUORUM.Required(5))
	require.Equal(t, 3, ALL.Required(3))
	require.Equal(t, 1, TWO.Required(1))
}

func TestOr(t *testing.T) {
	var unset Level
	require.Equal(t, QUORUM, unset.Or(Default))
	require.Equal(t, ONE, ONE.Or(Default))
}
