package idx

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	t.Parallel()

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = New().String()
	}

	require.True(t, sort.StringsAreSorted(ids), "monotonic generator must keep issuance order")
}

func TestParse(t *testing.T) {
	t.Parallel()

	id := New()
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = Parse("")
	require.ErrorIs(t, err, ErrInvalid)

	_, err = Parse("not-a-ulid")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestTimeRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	id := NewAt(at)

	require.Equal(t, at, id.Time())
	require.True(t, Zero.Time().IsZero())
}

func TestIsZero(t *testing.T) {
	t.Parallel()

	require.True(t, Zero.IsZero())
	require.False(t, New().IsZero())
}
