package device

import (
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/BradenHooton/aegis/internal/models"
)

// Heuristic weights added to a device's bot score
const (
	automationWeight    = 0.8
	zeroScreenWeight    = 0.5
	noPluginsWeight     = 0.3
	fewFontsWeight      = 0.2
	canvasFailureWeight = 0.3

	minFonts = 5
)

// automationUA matches headless browsers and automation frameworks
var automationUA = regexp.MustCompile(`(?i)(headless|phantomjs|selenium|webdriver|puppeteer|playwright|cypress|nightwatch|zombie)`)

// CalculateRiskScore scores raw collector signals for bot likelihood.
// Contributions are additive and the result is capped at 1.0. Absent signals add nothing.
func CalculateRiskScore(components models.Metadata) float64 {
	score := 0.0

	if ua, ok := components[models.ComponentUserAgent].(string); ok && automationUA.MatchString(ua) {
		score += automationWeight
	}
	if screen, ok := components[models.ComponentScreen]; ok && zeroScreen(screen) {
		score += zeroScreenWeight
	}
	if plugins, ok := components[models.ComponentPlugins]; ok {
		if n, known := count(plugins); known && n == 0 {
			score += noPluginsWeight
		}
	}
	if fonts, ok := components[models.ComponentFonts]; ok {
		if n, known := count(fonts); known && n < minFonts {
			score += fewFontsWeight
		}
	}
	if canvas, ok := components[models.ComponentCanvas]; ok && canvasFailed(canvas) {
		score += canvasFailureWeight
	}

	return math.Min(1.0, math.Round(score*100)/100)
}

// zeroScreen accepts {width, height} objects or "WxH" strings
func zeroScreen(v interface{}) bool {
	switch s := v.(type) {
	case map[string]interface{}:
		w, okW := number(s["width"])
		h, okH := number(s["height"])
		return (okW && w == 0) || (okH && h == 0)
	case models.Metadata:
		return zeroScreen(map[string]interface{}(s))
	case string:
		parts := strings.Split(strings.ToLower(s), "x")
		if len(parts) != 2 {
			return false
		}
		w, errW := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		h, errH := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		return (errW == nil && w == 0) || (errH == nil && h == 0)
	}
	return false
}

// count reads list lengths or explicit counts
func count(v interface{}) (int, bool) {
	if v == nil {
		return 0, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len(), true
	}
	if n, ok := number(v); ok {
		return int(n), true
	}
	return 0, false
}

// canvasFailed recognises "unsupported"/"error" markers, false, or an object with an error or supported=false
func canvasFailed(v interface{}) bool {
	switch c := v.(type) {
	case nil:
		return true
	case bool:
		return !c
	case string:
		s := strings.ToLower(strings.TrimSpace(c))
		return s == "" || s == "unsupported" || s == "not supported" || strings.Contains(s, "error")
	case map[string]interface{}:
		if supported, ok := c["supported"].(bool); ok && !supported {
			return true
		}
		if e, ok := c["error"]; ok && e != nil && e != false && e != "" {
			return true
		}
	case models.Metadata:
		return canvasFailed(map[string]interface{}(c))
	}
	return false
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
