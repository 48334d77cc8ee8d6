package audit

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{in: "example.com", want: "example.com"},
		{in: "https://www.Example.com/pricing?x=1", want: "example.com"},
		{in: "http://shop.example.co.uk:8443", want: "shop.example.co.uk"},
		{in: "  example.org.  ", want: "example.org"},
	}
	for _, tt := range tests {
		got, err := NormalizeDomain(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got)
	}

	for _, bad := range []string{"", "localhost", "http://10.0.0.1", "exa mple.com"} {
		_, err := NormalizeDomain(bad)
		require.True(t, errors.Is(err, ErrInvalidDomain), bad)
	}
}

func TestMatchesDomain(t *testing.T) {
	t.Parallel()

	require.True(t, MatchesDomain("https://example.com/a", "example.com"))
	require.True(t, MatchesDomain("https://WWW.example.com/", "example.com"))
	require.True(t, MatchesDomain("https://example.com/", "www.example.com"))
	require.False(t, MatchesDomain("https://blog.example.com/", "example.com"))
	require.False(t, MatchesDomain("https://notexample.com/", "example.com"))
	require.False(t, MatchesDomain("::", "example.com"))
}

func TestRegistrableDomain(t *testing.T) {
	t.Parallel()

	require.Equal(t, "example.co.uk", RegistrableDomain("https://www.shop.example.co.uk/x"))
	require.Equal(t, "rival.com", RegistrableDomain("rival.com"))
}

func TestSeverityRankOrdering(t *testing.T) {
	t.Parallel()

	require.Less(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	require.Less(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	require.Less(t, SeverityLow.Rank(), SeverityInfo.Rank())
	require.True(t, ScanStatusPreviewReady.Terminal())
	require.False(t, ScanStatusRunning.Terminal())
	require.True(t, AgentStatusSkipped.Terminal())
	require.False(t, AgentStatusRunning.Terminal())
}

func TestTruncateRunes(t *testing.T) {
	t.Parallel()

	require.Equal(t, "héll", TruncateRunes("héllo", 4))
	require.Equal(t, "hi", TruncateRunes("hi", 10))
	require.Empty(t, TruncateRunes("hi", 0))
}
