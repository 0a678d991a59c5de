package models

import "time"

// Well-known component keys sent by the client-side collector
const (
	ComponentUserAgent = "userAgent"
	ComponentScreen    = "screen"
	ComponentTimezone  = "timezone"
	ComponentPlugins   = "plugins"
	ComponentFonts     = "fonts"
	ComponentCanvas    = "canvas"
	ComponentWebGL     = "webgl"
	ComponentAudio     = "audio"
)

// HighRiskDeviceScore is the score at or above which a device counts as high risk in stats
const HighRiskDeviceScore = 0.7

// DeviceFingerprint is a recognised client device. Fingerprint is the dedup key.
type DeviceFingerprint struct {
	ID          string    `db:"id" json:"id"`
	UserID      string    `db:"user_id" json:"userId,omitempty"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	Components  Metadata  `db:"components" json:"components"`
	RiskScore   float64   `db:"risk_score" json:"riskScore"`
	DeviceType  string    `db:"device_type" json:"deviceType,omitempty"`
	OS          string    `db:"os" json:"os,omitempty"`
	Browser     string    `db:"browser" json:"browser,omitempty"`
	FirstSeen   time.Time `db:"first_seen" json:"firstSeen"`
	LastSeen    time.Time `db:"last_seen" json:"lastSeen"`
	SeenCount   int       `db:"seen_count" json:"seenCount"`
	Trusted     bool      `db:"trusted" json:"trusted"`
	Blocked     bool      `db:"blocked" json:"blocked"`
}

// Clone returns a copy safe to hand to callers
func (d *DeviceFingerprint) Clone() *DeviceFingerprint {
	c := *d
	if d.Components != nil {
		c.Components = d.Components.Clone()
	}
	return &c
}

// DeviceStats summarises the device table
type DeviceStats struct {
	Total    int `json:"total"`
	Trusted  int `json:"trusted"`
	Blocked  int `json:"blocked"`
	HighRisk int `json:"highRisk"`
	WithUser int `json:"withUser"`
}
