package verify

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strings"
)

// ClaimCodePrefix is prepended to every generated claim code.
const ClaimCodePrefix = "SEDA-"

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewClaimCode returns a fresh claim code of the form SEDA-<length random
// uppercase alphanumerics>. Codes are generated independently per request;
// global uniqueness is not enforced.
func NewClaimCode(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("code length must be > 0, got %d", length)
	}
	var b strings.Builder
	b.WriteString(ClaimCodePrefix)
	bound := big.NewInt(int64(len(codeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, bound)
		if err != nil {
			return "", fmt.Errorf("generate claim code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// hostnamePattern requires a dotted hostname ending in an alphabetic TLD.
var hostnamePattern = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// CheckSubmissionURL performs the coarse syntactic check applied at the
// submission boundary: HTTPS plus a plausible hostname shape. It is
// deliberately looser than the crawler's allowlist so links to platforms
// the crawler will not visit still reach manual review.
func CheckSubmissionURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if !strings.EqualFold(u.Scheme, "https") {
		return fmt.Errorf("%w: scheme %q is not allowed, https is required", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if !hostnamePattern.MatchString(host) {
		return fmt.Errorf("%w: host %q is not a valid hostname", ErrInvalidURL, host)
	}
	return nil
}
