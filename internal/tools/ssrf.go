package tools

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// checkSSRF rejects URLs that resolve to private, loopback, link-local, or
// cloud-metadata addresses. Called on the initial URL and every redirect.
func checkSSRF(rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("missing hostname")
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("localhost not allowed")
	}
	if strings.EqualFold(host, "metadata.google.internal") {
		return fmt.Errorf("cloud metadata endpoint not allowed")
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return fmt.Errorf("DNS resolution failed for %s: %w", host, err)
	}
	for _, ip := range ips {
		if err := checkIP(ip); err != nil {
			return fmt.Errorf("%s resolves to %s: %w", host, ip, err)
		}
	}
	return nil
}

func checkIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return fmt.Errorf("loopback address not allowed")
	case ip.IsPrivate():
		return fmt.Errorf("private address not allowed")
	case ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("link-local address not allowed")
	case ip.IsUnspecified():
		return fmt.Errorf("unspecified address not allowed")
	case ip.Equal(net.ParseIP("169.254.169.254")):
		return fmt.Errorf("cloud metadata address not allowed")
	}
	return nil
}
