// Package horosafe holds the small set of safety checks the bot applies at
// its network edges: bounded reads of remote bodies, URL checks for
// operator-configured endpoints and user-supplied callbacks, and a minimum
// length for shared webhook secrets.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
)

// MinSecretLen is the minimum length of a webhook HMAC secret.
const MinSecretLen = 32

// MaxResponseBody is the default cap for remote response bodies (1 MiB).
const MaxResponseBody int64 = 1 << 20

var (
	ErrSecretTooShort = fmt.Errorf("horosafe: secret must be at least %d bytes", MinSecretLen)
	ErrUnsafeScheme   = errors.New("horosafe: only http and https schemes are allowed")
	ErrSSRF           = errors.New("horosafe: URL targets a private or loopback address")
	ErrBodyTooLarge   = errors.New("horosafe: body exceeds limit")
)

// ValidateSecret checks that secret is at least MinSecretLen bytes.
func ValidateSecret(secret []byte) error {
	if len(secret) < MinSecretLen {
		return ErrSecretTooShort
	}
	return nil
}

// ParseHTTPURL parses rawURL and checks it is an absolute http(s) URL with a
// host. It does not resolve the host; use it for operator configuration.
func ParseHTTPURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("horosafe: URL has no host")
	}
	return u, nil
}

// ValidateURL is ParseHTTPURL plus a private/loopback address check with DNS
// resolution. Use it for URLs that arrive inside messages.
func ValidateURL(rawURL string) error {
	u, err := ParseHTTPURL(rawURL)
	if err != nil {
		return err
	}
	host := u.Hostname()
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		// Unresolvable now; the connection attempt will fail on its own.
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and fails with
// ErrBodyTooLarge beyond that.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, maxBytes)
	}
	return data, nil
}

var privateNets = mustCIDRs(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"fc00::/7",
)

func mustCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
