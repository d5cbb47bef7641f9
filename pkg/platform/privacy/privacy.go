// Package privacy masks personal data before it reaches logs, traces or audit events.
package privacy

import (
	"fmt"
	"net"
	"strings"
)

// AnonymizeIP zeroes the host part of an address: IPv4 keeps the /24, IPv6 the /48.
// Returns "invalid" for unparseable input and "unknown" for empty input.
func AnonymizeIP(ip string) string {
	if ip == "" || ip == "unknown" {
		return "unknown"
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "invalid"
	}
	if v4 := parsed.To4(); v4 != nil {
		return fmt.Sprintf("%d.%d.%d.0", v4[0], v4[1], v4[2])
	}
	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x::",
		parsed[0], parsed[1],
		parsed[2], parsed[3],
		parsed[4], parsed[5])
}

const visibleIdentifierDigits = 3

// MaskIdentifier keeps only the last three characters of a patient identifier.
func MaskIdentifier(identifier string) string {
	if len(identifier) <= visibleIdentifierDigits {
		return strings.Repeat("*", len(identifier))
	}
	cut := len(identifier) - visibleIdentifierDigits
	return strings.Repeat("*", cut) + identifier[cut:]
}

// MaskDestination hides most of a phone number or e-mail address.
func MaskDestination(destination string) string {
	if local, domain, ok := strings.Cut(destination, "@"); ok {
		if local == "" {
			return "*@" + domain
		}
		return local[:1] + strings.Repeat("*", len(local)-1) + "@" + domain
	}
	return MaskIdentifier(destination)
}
