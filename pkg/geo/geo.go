package geo

import (
	"net"
	"strings"

	"github.com/mileusna/useragent"
	"github.com/oschwald/geoip2-golang"
)

const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceUnknown = "unknown"
)

// Info is the best-effort classification of a single request. Unresolvable
// fields are nil or "unknown", never an error.
type Info struct {
	Country    *string
	City       *string
	DeviceType string
	Browser    *string
	OS         *string
}

// Resolver is a pure lookup: the optional MaxMind reader is queried in
// memory, and user-agent parsing has no side effects, so it is safe both on
// the hot path and inside the asynchronous recorder.
type Resolver struct {
	geoDB *geoip2.Reader
}

// NewResolver accepts a nil reader; without one, country and city simply
// stay nil.
func NewResolver(geoDB *geoip2.Reader) *Resolver {
	return &Resolver{geoDB: geoDB}
}

func (r *Resolver) Resolve(ip, userAgentRaw string) Info {
	info := Info{DeviceType: ParseDeviceType(userAgentRaw)}

	ua := useragent.Parse(userAgentRaw)
	if ua.Name != "" {
		name := ua.Name
		info.Browser = &name
	}
	if ua.OS != "" {
		os := ua.OS
		info.OS = &os
	}

	info.Country, info.City = r.lookupGeo(ip)
	return info
}

func (r *Resolver) lookupGeo(ip string) (country, city *string) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, nil
	}
	// Private and reserved ranges carry no geo signal; skip the lookup.
	if parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsLinkLocalUnicast() || parsed.IsUnspecified() {
		return nil, nil
	}
	if r.geoDB == nil {
		return nil, nil
	}

	record, err := r.geoDB.City(parsed)
	if err != nil {
		return nil, nil
	}
	if record.Country.IsoCode != "" {
		code := record.Country.IsoCode
		country = &code
	}
	if name, ok := record.City.Names["en"]; ok && name != "" {
		city = &name
	}
	return country, city
}

// ParseDeviceType maps a raw user-agent to one of the four device buckets.
// The parser reporting no device category means desktop; that is a project
// convention, not a parser gap.
func ParseDeviceType(userAgentRaw string) string {
	if strings.TrimSpace(userAgentRaw) == "" {
		return DeviceUnknown
	}
	ua := useragent.Parse(userAgentRaw)
	switch {
	case ua.Tablet:
		return DeviceTablet
	case ua.Mobile:
		return DeviceMobile
	default:
		return DeviceDesktop
	}
}

// ClientIP picks the client address from proxy headers: the first entry of
// a comma-separated X-Forwarded-For, then X-Real-IP, then the direct
// connection address with any port stripped.
func ClientIP(forwardedFor, realIP, remoteAddr string) string {
	if forwardedFor != "" {
		first := strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
		if first != "" {
			return first
		}
	}
	if realIP != "" {
		return strings.TrimSpace(realIP)
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
