package hydrate

import "strings"

// User agent classification tables. All matching runs over the lowercased
// user agent string.

var botKeywords = []string{
	"bot", "crawler", "spider", "scraper", "crawl",
	"slurp", "fetch", "index", "archive", "monitor",
}

var cliTools = []string{
	"curl/", "wget/", "httpie/", "powershell", "libcurl",
}

var httpLibraries = []string{
	"python-requests", "python-urllib", "aiohttp", "go-http-client",
	"okhttp", "java/", "apache-httpclient", "axios", "node-fetch",
	"guzzlehttp", "ruby", "faraday", "got (", "undici",
}

// browserFamilies is checked in order: Edge and Opera advertise Chrome and
// Safari in their UA, Chrome advertises Safari, so the more specific
// tokens come first.
var browserFamilies = []struct {
	token  string
	family string
}{
	{"edg/", "edge"},
	{"edge/", "edge"},
	{"opr/", "opera"},
	{"opera", "opera"},
	{"firefox/", "firefox"},
	{"chrome/", "chrome"},
	{"safari/", "safari"},
	{"msie", "ie"},
	{"trident/", "ie"},
}

var operatingSystems = []struct {
	token string
	name  string
}{
	{"windows nt", "windows"},
	{"android", "android"}, // Before linux: Android UAs carry "Linux" too
	{"iphone os", "ios"},
	{"ipad", "ios"},
	{"mac os x", "macos"},
	{"macintosh", "macos"},
	{"cros", "chromeos"},
	{"linux", "linux"},
}

// ContainsBotKeyword reports whether the lowercased UA carries a
// self-identifying bot token.
func ContainsBotKeyword(lowerUA string) bool {
	return containsAny(lowerUA, botKeywords)
}

// IsCLITool reports whether the lowercased UA is a command-line client.
func IsCLITool(lowerUA string) bool {
	return containsAny(lowerUA, cliTools)
}

// IsHTTPLibrary reports whether the lowercased UA is a programmatic HTTP
// library default.
func IsHTTPLibrary(lowerUA string) bool {
	return containsAny(lowerUA, httpLibraries)
}

// BrowserFamily returns the claimed browser family, or "" when the UA does
// not look like a browser.
func BrowserFamily(lowerUA string) string {
	for _, b := range browserFamilies {
		if strings.Contains(lowerUA, b.token) {
			return b.family
		}
	}
	return ""
}

// OperatingSystem returns the claimed OS, or "".
func OperatingSystem(lowerUA string) string {
	for _, o := range operatingSystems {
		if strings.Contains(lowerUA, o.token) {
			return o.name
		}
	}
	return ""
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
