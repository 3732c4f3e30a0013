package idx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/loginkit/pkg/idx"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	t.Parallel()

	id := idx.New()
	require.NotEmpty(t, id.String())
	require.False(t, id.IsZero())
	require.Empty(t, id.Prefix())

	parsed, err := idx.Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestPrefixed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		id     idx.ID
		prefix string
	}{
		{"request", idx.NewRequestID(), idx.PrefixRequest},
		{"ceremony", idx.NewCeremonyID(), idx.PrefixCeremony},
		{"login", idx.NewLoginID(), idx.PrefixLogin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.prefix, tt.id.Prefix())

			parsed, err := idx.Parse(tt.id.String())
			require.NoError(t, err)
			require.Equal(t, tt.id, parsed)
		})
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "   ", "not-a-ulid", "req_nope"} {
		_, err := idx.Parse(s)
		require.ErrorIs(t, err, idx.ErrInvalid, s)
	}
}

func TestTimeExtraction(t *testing.T) {
	t.Parallel()

	tm := time.Unix(1700000000, 0).UTC()
	id := idx.NewAt(tm)

	require.WithinDuration(t, tm, id.Time(), time.Millisecond)
	require.True(t, idx.ID("garbage").Time().IsZero())
}

// Not parallel: interleaved ids at other timestamps reset the monotonic window.
func TestMonotonicOrdering(t *testing.T) {
	tm := time.Unix(1800000000, 0).UTC()
	a := idx.NewAt(tm)
	b := idx.NewAt(tm)
	require.Less(t, a.String(), b.String())
}
