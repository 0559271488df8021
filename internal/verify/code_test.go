package verify

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewClaimCode_Format(t *testing.T) {
	t.Parallel()

	code, err := NewClaimCode(8)
	require.NoError(t, err)
	require.Regexp(t, `^SEDA-[A-Z0-9]{8}$`, code)
}

func TestNewClaimCode_LengthVariants(t *testing.T) {
	t.Parallel()

	code, err := NewClaimCode(16)
	require.NoError(t, err)
	require.Len(t, code, len(ClaimCodePrefix)+16)

	_, err = NewClaimCode(0)
	require.Error(t, err)

	_, err = NewClaimCode(-3)
	require.Error(t, err)
}

func TestNewClaimCode_Varies(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := NewClaimCode(8)
		require.NoError(t, err)
		require.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestCheckSubmissionURL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{name: "https allowlisted platform", raw: "https://artist.bandcamp.com/about"},
		{name: "https arbitrary site", raw: "https://my-band-site.io/bio"},
		{name: "uppercase scheme", raw: "HTTPS://artist.bandcamp.com"},
		{name: "surrounding whitespace", raw: "  https://soundcloud.com/artist  "},
		{name: "http rejected", raw: "http://artist.bandcamp.com", wantErr: true},
		{name: "ftp rejected", raw: "ftp://artist.bandcamp.com", wantErr: true},
		{name: "missing scheme", raw: "artist.bandcamp.com/about", wantErr: true},
		{name: "bare host no tld", raw: "https://localhost", wantErr: true},
		{name: "ip address", raw: "https://127.0.0.1/page", wantErr: true},
		{name: "numeric tld", raw: "https://example.123", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := CheckSubmissionURL(tc.raw)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidURL)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestStatusActiveTerminal(t *testing.T) {
	t.Parallel()

	require.True(t, StatusPending.Active())
	require.True(t, StatusCrawling.Active())
	require.True(t, StatusAwaitingAdmin.Active())
	require.False(t, StatusApproved.Active())
	require.False(t, StatusExpired.Active())
	require.False(t, StatusDenied.Active())

	require.True(t, StatusApproved.Terminal())
	require.True(t, StatusExpired.Terminal())
	require.True(t, StatusDenied.Terminal())
	require.False(t, StatusAwaitingAdmin.Terminal())
}
