package device

import (
	"fmt"
	"strings"

	"github.com/avct/uasurfer"
)

type userAgentInfo struct {
	DeviceType string
	OS         string
	Browser    string
}

// parseUserAgent extracts display fields from a user agent. They are informational only.
func parseUserAgent(raw string) userAgentInfo {
	if raw == "" {
		return userAgentInfo{}
	}
	ua := uasurfer.Parse(raw)

	deviceType := "unknown"
	switch ua.DeviceType {
	case uasurfer.DeviceComputer:
		deviceType = "computer"
	case uasurfer.DeviceTablet:
		deviceType = "tablet"
	case uasurfer.DevicePhone:
		deviceType = "phone"
	case uasurfer.DeviceConsole:
		deviceType = "console"
	case uasurfer.DeviceWearable:
		deviceType = "wearable"
	case uasurfer.DeviceTV:
		deviceType = "tv"
	}

	return userAgentInfo{
		DeviceType: deviceType,
		OS:         fmt.Sprintf("%s %d.%d", strings.TrimPrefix(ua.OS.Name.String(), "OS"), ua.OS.Version.Major, ua.OS.Version.Minor),
		Browser:    fmt.Sprintf("%s %d.%d", strings.TrimPrefix(ua.Browser.Name.String(), "Browser"), ua.Browser.Version.Major, ua.Browser.Version.Minor),
	}
}
