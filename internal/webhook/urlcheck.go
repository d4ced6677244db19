package webhook

import (
	"net/netip"
	"net/url"
	"strings"
)

// Validation is the outcome of ValidateURL. Reason is empty when Valid.
type Validation struct {
	Valid  bool
	Reason string
}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("169.254.0.0/16"), // IPv4 link-local
	netip.MustParsePrefix("100.64.0.0/10"),  // carrier-grade NAT
	netip.MustParsePrefix("fc00::/7"),       // unique local
	netip.MustParsePrefix("fe80::/10"),      // link-local
}

// Cloud instance metadata endpoints reachable by IP literal.
var metadataAddrs = []netip.Addr{
	netip.MustParseAddr("169.254.169.254"), // AWS, GCP, Azure, OpenStack
	netip.MustParseAddr("fd00:ec2::254"),   // AWS IMDS over IPv6
	netip.MustParseAddr("100.100.100.200"), // Alibaba Cloud
}

// ValidateURL checks that raw is an https destination that does not point at
// loopback, private or metadata addresses. Only IP literals are inspected;
// hostnames are never resolved.
func ValidateURL(raw string) Validation {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return invalid("url is malformed")
	}
	if u.Scheme != "https" {
		return invalid("url must use https")
	}
	if u.User != nil {
		return invalid("url must not contain credentials")
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" {
		return invalid("url must include a host")
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return invalid("url must not point to localhost")
	}

	addr, err := netip.ParseAddr(host)
	if err != nil {
		if isLegacyIPv4(host) {
			return invalid("url must not use a shorthand numeric IPv4 address")
		}
		// Not an IP literal.
		return Validation{Valid: true}
	}
	// Zoned addresses never match a prefix or compare equal to an unzoned one.
	addr = addr.Unmap().WithZone("")

	if addr.IsLoopback() {
		return invalid("url must not point to a loopback address")
	}
	if addr.IsUnspecified() {
		return invalid("url must not point to an unspecified address")
	}
	// Metadata addresses sit inside private ranges; check them first for a precise reason.
	for _, m := range metadataAddrs {
		if addr == m {
			return invalid("url must not point to a cloud metadata address")
		}
	}
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return invalid("url must not point to a private network address")
		}
	}
	return Validation{Valid: true}
}

// isLegacyIPv4 reports whether host is one of the numeric forms inet_aton
// accepts but netip does not: fewer than four parts, octal or hex parts, or a
// single 32-bit integer (127.1, 0x7f000001, 0177.0.0.1, 2130706433).
func isLegacyIPv4(host string) bool {
	parts := strings.Split(host, ".")
	if len(parts) > 4 {
		return false
	}
	for _, p := range parts {
		if !isNumericPart(p) {
			return false
		}
	}
	return true
}

func isNumericPart(p string) bool {
	if hex, ok := strings.CutPrefix(p, "0x"); ok {
		for _, c := range hex {
			if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
				return false
			}
		}
		return true
	}
	if p == "" {
		return false
	}
	for _, c := range p {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func invalid(reason string) Validation {
	return Validation{Valid: false, Reason: reason}
}
