package session

import "strings"

// ParseUserAgent extracts browser, platform and device class from a raw
// User-Agent header. Order matters: Chrome's UA contains "Safari", Edge's
// contains "Chrome", so the most specific tokens are checked first.
func ParseUserAgent(ua string) (browser, platform, device string) {
	lower := strings.ToLower(ua)

	switch {
	case strings.Contains(ua, "Edg/"), strings.Contains(ua, "Edge/"):
		browser = "Edge"
	case strings.Contains(ua, "OPR/"), strings.Contains(ua, "Opera"):
		browser = "Opera"
	case strings.Contains(ua, "Firefox/"):
		browser = "Firefox"
	case strings.Contains(ua, "Chrome/"), strings.Contains(ua, "CriOS/"):
		browser = "Chrome"
	case strings.Contains(ua, "Safari/"):
		browser = "Safari"
	case strings.Contains(ua, "Trident/"), strings.Contains(ua, "MSIE"):
		browser = "Internet Explorer"
	default:
		browser = "Unknown"
	}

	switch {
	case strings.Contains(lower, "windows"):
		platform = "Windows"
	case strings.Contains(lower, "iphone"), strings.Contains(lower, "ipad"):
		platform = "iOS"
	case strings.Contains(lower, "mac os"), strings.Contains(lower, "macintosh"):
		platform = "macOS"
	case strings.Contains(lower, "android"):
		platform = "Android"
	case strings.Contains(lower, "linux"):
		platform = "Linux"
	default:
		platform = "Unknown"
	}

	switch {
	case strings.Contains(lower, "ipad"), strings.Contains(lower, "tablet"):
		device = "tablet"
	case strings.Contains(lower, "mobile"), strings.Contains(lower, "iphone"), strings.Contains(lower, "android"):
		device = "mobile"
	default:
		device = "desktop"
	}
	return browser, platform, device
}
