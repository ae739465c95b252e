package features

import "strings"

// ForModel returns the ordered feature list for a device model. Unknown
// models get no features; the caller falls back to raw RPC entry.
func ForModel(model string) []Feature {
	var out []Feature

	if strings.HasPrefix(model, "yeelink.light") {
		out = append(out, power())
		monochrome := strings.Contains(model, "mono") || strings.Contains(model, "ceiling")
		if !monochrome {
			out = append(out, rgbColor())
		}
		out = append(out, brightness(), lanControl())
	}

	return out
}
