package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	v := NewValidator(nil)

	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr string
	}{
		{
			name: "allowlisted apex",
			raw:  "https://bandcamp.com/some-artist",
			want: "https://bandcamp.com/some-artist",
		},
		{
			name: "allowlisted subdomain",
			raw:  "https://myband.bandcamp.com/about",
			want: "https://myband.bandcamp.com/about",
		},
		{
			name: "spotify artist page",
			raw:  "https://open.spotify.com/artist/abc123",
			want: "https://open.spotify.com/artist/abc123",
		},
		{
			name: "uppercase host lowered",
			raw:  "https://MyBand.Bandcamp.COM/About",
			want: "https://myband.bandcamp.com/About",
		},
		{
			name: "default port stripped",
			raw:  "https://soundcloud.com:443/artist",
			want: "https://soundcloud.com/artist",
		},
		{
			name: "fragment stripped",
			raw:  "https://youtu.be/xyz#t=30",
			want: "https://youtu.be/xyz",
		},
		{
			name: "query keys sorted",
			raw:  "https://youtube.com/watch?v=abc&ab_channel=band",
			want: "https://youtube.com/watch?ab_channel=band&v=abc",
		},
		{
			name:    "http rejected",
			raw:     "http://bandcamp.com/artist",
			wantErr: "https is required",
		},
		{
			name:    "host not allowlisted",
			raw:     "https://evil.example.com/page",
			wantErr: "not on the allowed platform list",
		},
		{
			name:    "suffix spoof rejected",
			raw:     "https://notbandcamp.com/artist",
			wantErr: "not on the allowed platform list",
		},
		{
			name:    "localhost blocked",
			raw:     "https://localhost/admin",
			wantErr: "private or loopback",
		},
		{
			name:    "loopback ip blocked",
			raw:     "https://127.0.0.1/metadata",
			wantErr: "private or loopback",
		},
		{
			name:    "ten dot blocked",
			raw:     "https://10.0.0.8/internal",
			wantErr: "private or loopback",
		},
		{
			name:    "one seven two range blocked",
			raw:     "https://172.16.0.1/internal",
			wantErr: "private or loopback",
		},
		{
			name:    "one nine two blocked",
			raw:     "https://192.168.1.5/router",
			wantErr: "private or loopback",
		},
		{
			name:    "missing host",
			raw:     "https:///path-only",
			wantErr: "no host",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := v.Validate(tc.raw)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestValidator_OutsidePrivateRange(t *testing.T) {
	t.Parallel()

	// 172.15 and 172.32 are public space; they fail the allowlist, not the
	// private-range block.
	v := NewValidator(nil)
	_, err := v.Validate("https://172.15.0.1/page")
	require.ErrorContains(t, err, "allowed platform list")
	_, err = v.Validate("https://172.32.0.1/page")
	require.ErrorContains(t, err, "allowed platform list")
}

func TestValidator_CustomAllowlist(t *testing.T) {
	t.Parallel()

	v := NewValidator([]string{" Example.COM ", ""})
	got, err := v.Validate("https://sub.example.com/page")
	require.NoError(t, err)
	require.Equal(t, "https://sub.example.com/page", got)

	_, err = v.Validate("https://bandcamp.com/artist")
	require.ErrorContains(t, err, "allowed platform list")
}

func TestNewValidator_EmptyFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	v := NewValidator([]string{"", "   "})
	_, err := v.Validate("https://bandcamp.com/artist")
	require.NoError(t, err)
}
