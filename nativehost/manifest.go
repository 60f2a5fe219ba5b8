package nativehost

import (
	"encoding/json"
	"fmt"
)

// HostName is the native messaging host identifier the extension connects to.
const HostName = "com.wolfeidau.togglemark"

// Browser is a browser family with its own manifest format.
type Browser string

const (
	BrowserFirefox Browser = "firefox"
	BrowserChrome  Browser = "chrome"
)

type firefoxManifest struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	Path              string   `json:"path"`
	Type              string   `json:"type"`
	AllowedExtensions []string `json:"allowed_extensions"`
}

type chromeManifest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Path           string   `json:"path"`
	Type           string   `json:"type"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// GenerateManifest returns the host manifest for browser.
func GenerateManifest(browser Browser, hostPath, extensionID string) ([]byte, error) {
	const desc = "ToggleMark bookmark expiry and reminder host"
	var m any
	switch browser {
	case BrowserFirefox:
		m = firefoxManifest{
			Name:              HostName,
			Description:       desc,
			Path:              hostPath,
			Type:              "stdio",
			AllowedExtensions: []string{extensionID},
		}
	case BrowserChrome:
		m = chromeManifest{
			Name:           HostName,
			Description:    desc,
			Path:           hostPath,
			Type:           "stdio",
			AllowedOrigins: []string{"chrome-extension://" + extensionID + "/"},
		}
	default:
		return nil, fmt.Errorf("unsupported browser %q", browser)
	}
	return json.MarshalIndent(m, "", "  ")
}
