package session

import "net"

// Location describes where a session originated.
type Location struct {
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}

// Locator resolves an IP address to a coarse location.
type Locator interface {
	Locate(ip string) (*Location, bool)
}

// StaticLocator serves lookups from a fixed table and labels private and
// loopback addresses as local traffic. It stands in for a GeoIP database in
// deployments that do not ship one.
type StaticLocator struct {
	table map[string]Location
}

// NewStaticLocator builds a locator over a fixed ip-to-location table.
func NewStaticLocator(table map[string]Location) *StaticLocator {
	return &StaticLocator{table: table}
}

func (l *StaticLocator) Locate(ip string) (*Location, bool) {
	if l != nil && l.table != nil {
		if loc, ok := l.table[ip]; ok {
			out := loc
			return &out, true
		}
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, false
	}
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() {
		return &Location{City: "Local", Country: "Local"}, true
	}
	return nil, false
}
