package utils

import (
	"fmt"
	"net/url"
	"strings"

	"nowshowing/work/config"

	"github.com/grafana/regexp"
)

// imdbIDPattern matches external catalog identifiers in the IMDb style
// ("tt" followed by at least seven digits).
var imdbIDPattern = regexp.MustCompile(`^tt\d{7,8}$`)

// ValidTitleID reports whether id looks like an IMDb-style title identifier.
func ValidTitleID(id string) bool {
	return imdbIDPattern.MatchString(id)
}

// LogURL returns either the original URL or an obfuscated version for logging,
// depending on the obfuscation config flag.
func LogURL(cfg *config.Config, url string) string {
	if cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// ObfuscateURL keeps the scheme and host of a URL but hides path, query and
// fragment so provider links don't leak into logs verbatim.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// FormatBytes renders a byte count in human-readable units.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// SanitizeName normalizes a provider display name into a token safe for use
// in URLs and metric labels.
func SanitizeName(name string) string {
	sanitized := name
	for _, ch := range []string{" ", ",", "/", "\\", "?", "&", "=", ":", ";", "|", "*", "<", ">"} {
		sanitized = strings.ReplaceAll(sanitized, ch, "_")
	}
	for _, ch := range []string{"\"", "'"} {
		sanitized = strings.ReplaceAll(sanitized, ch, "")
	}

	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}

	return strings.Trim(sanitized, "_")
}
