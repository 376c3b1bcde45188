package listing

import (
	"bytes"
	"net/http"
)

// BlockType describes the kind of anti-automation response detected.
type BlockType string

const (
	BlockNone       BlockType = ""
	BlockThrottle   BlockType = "throttle"
	BlockCloudflare BlockType = "cloudflare"
	BlockCaptcha    BlockType = "captcha"
	BlockRobotCheck BlockType = "robot_check"
	BlockJSShell    BlockType = "js_shell"
)

var (
	robotCheckMarkers = [][]byte{
		[]byte("to discuss automated access"),
		[]byte("type the characters you see in this image"),
		[]byte("geben sie die zeichen unten ein"),
		[]byte("/errors/validatecaptcha"),
		[]byte("sorry, we just need to make sure you're not a robot"),
	}
	captchaMarkers = [][]byte{[]byte("captcha"), []byte("recaptcha"), []byte("hcaptcha")}
)

// DetectBlock checks a product page response for signs that we were
// throttled or challenged instead of served the listing.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return true, BlockThrottle
	}

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
		// Marketplaces answer bursts with a bare 503 page.
		if resp.StatusCode == http.StatusServiceUnavailable {
			return true, BlockThrottle
		}
	}

	lower := bytes.ToLower(body)

	for _, m := range robotCheckMarkers {
		if bytes.Contains(lower, m) {
			return true, BlockRobotCheck
		}
	}

	if bytes.Contains(lower, []byte("checking your browser")) ||
		bytes.Contains(lower, []byte("cf-browser-verification")) {
		return true, BlockCloudflare
	}

	// Product pages are large; a captcha mention on a small page is a challenge.
	if len(body) < 20000 {
		for _, m := range captchaMarkers {
			if bytes.Contains(lower, m) {
				return true, BlockCaptcha
			}
		}
	}

	if len(body) < 2000 {
		if bytes.Contains(lower, []byte("<noscript")) && bytes.Contains(lower, []byte("javascript")) {
			return true, BlockJSShell
		}
		if bytes.Contains(lower, []byte(`meta http-equiv="refresh"`)) {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}
