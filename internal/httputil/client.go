package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"
)

const DefaultTimeout = 60 * time.Second

// DesktopUserAgent is sent on page fetches; map pages serve a stripped
// document to unknown agents.
const DesktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// NewClient returns an HTTP client with standard timeout configuration.
func NewClient() *resty.Client {
	return resty.New().
		SetTimeout(DefaultTimeout).
		SetHeader("User-Agent", DesktopUserAgent).
		SetHeader("Accept-Language", "en")
}
