package audit

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NormalizeDomain turns a user-supplied URL or host into the bare lowercase
// host a scan is keyed on. Scheme, port, path and a leading "www." are dropped.
func NormalizeDomain(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidDomain)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDomain, err)
	}
	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	if host == "" || strings.ContainsAny(host, " _") {
		return "", fmt.Errorf("%w: %q", ErrInvalidDomain, raw)
	}
	if ip := net.ParseIP(host); ip != nil {
		return "", fmt.Errorf("%w: ip addresses are not scannable", ErrInvalidDomain)
	}
	if !strings.Contains(host, ".") {
		return "", fmt.Errorf("%w: %q has no public suffix", ErrInvalidDomain, host)
	}
	return strings.TrimPrefix(host, "www."), nil
}

// MatchesDomain reports whether rawURL is served by domain itself or its www
// variant. Other subdomains do not match.
func MatchesDomain(rawURL, domain string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
	return host == domain || host == "www."+domain
}

// RegistrableDomain returns the eTLD+1 for rawURL, or its bare host when the
// public suffix list cannot resolve it.
func RegistrableDomain(rawURL string) string {
	host := hostOf(rawURL)
	if host == "" {
		return ""
	}
	apex, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return strings.TrimPrefix(host, "www.")
	}
	return apex
}

// HomepageURL builds the https URL of a domain's homepage.
func HomepageURL(domain string) string {
	return "https://" + domain + "/"
}

func hostOf(rawURL string) string {
	if !strings.Contains(rawURL, "://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
}
