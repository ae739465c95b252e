// Package features maps device model strings to the control features the
// UI can offer. The catalog is a static, side-effect-free lookup: feature
// builders only produce the miIO method name and params for the RPC layer
// to send.
package features

import (
	"fmt"
	"strconv"
	"strings"
)

// ControlKind discriminates the UI control style of a feature.
type ControlKind string

const (
	// Toggle is an on/off switch.
	Toggle ControlKind = "toggle"
	// Slider is a bounded numeric control.
	Slider ControlKind = "slider"
	// ColorPicker is an RGB color control.
	ColorPicker ControlKind = "colorPicker"
)

// Control describes how a feature is presented. Only the fields matching
// Kind are meaningful.
type Control struct {
	Kind ControlKind `json:"type"`

	// Toggle values.
	On  string `json:"on,omitempty"`
	Off string `json:"off,omitempty"`

	// Slider bounds.
	Min  int `json:"min,omitempty"`
	Max  int `json:"max,omitempty"`
	Step int `json:"step,omitempty"`
}

// Call is a prepared miIO invocation.
type Call struct {
	Method string
	Params any
}

// Feature is one controllable capability of a device model.
type Feature struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	Description string  `json:"description,omitempty"`
	Control     Control `json:"style"`

	// Get builds the read call; nil when the feature is write-only.
	Get func() (Call, error) `json:"-"`
	// Set builds the write call from a user-provided value.
	Set func(value string) (Call, error) `json:"-"`
}

// Readable reports whether the feature supports a read call.
func (f Feature) Readable() bool {
	return f.Get != nil
}

func power() Feature {
	return Feature{
		ID:      "power",
		Label:   "Power",
		Control: Control{Kind: Toggle, On: "1", Off: "0"},
		Get: func() (Call, error) {
			return Call{Method: "get_prop", Params: []any{"power"}}, nil
		},
		Set: func(value string) (Call, error) {
			v := "off"
			if truthy(value) {
				v = "on"
			}
			return Call{Method: "set_power", Params: []any{v, "smooth", 500}}, nil
		},
	}
}

func brightness() Feature {
	return Feature{
		ID:      "bright",
		Label:   "Brightness",
		Control: Control{Kind: Slider, Min: 1, Max: 100, Step: 1},
		Get: func() (Call, error) {
			return Call{Method: "get_prop", Params: []any{"bright"}}, nil
		},
		Set: func(value string) (Call, error) {
			level, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				level = 50
			}
			level = min(100, max(1, level))
			return Call{Method: "set_bright", Params: []any{level, "smooth", 500}}, nil
		},
	}
}

func rgbColor() Feature {
	return Feature{
		ID:      "rgb",
		Label:   "RGB Color",
		Control: Control{Kind: ColorPicker},
		Get: func() (Call, error) {
			return Call{Method: "get_prop", Params: []any{"rgb"}}, nil
		},
		Set: func(value string) (Call, error) {
			rgb, err := ParseColor(value)
			if err != nil {
				return Call{}, err
			}
			return Call{Method: "set_rgb", Params: []any{uint64(rgb), "smooth", 500}}, nil
		},
	}
}

func lanControl() Feature {
	return Feature{
		ID:      "lan_mode",
		Label:   "LAN Control",
		Control: Control{Kind: Toggle, On: "1", Off: "0"},
		Get: func() (Call, error) {
			return Call{Method: "get_prop", Params: []any{"lan_ctrl"}}, nil
		},
		Set: func(value string) (Call, error) {
			v := "0"
			if truthy(value) {
				v = "1"
			}
			return Call{Method: "set_ps", Params: []any{"cfg_lan_ctrl", v}}, nil
		},
	}
}

func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on":
		return true
	default:
		return false
	}
}

// ParseColor validates a ColorPicker input and returns its numeric value.
func ParseColor(value string) (uint32, error) {
	clean := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "#"), "0x")
	rgb, err := strconv.ParseUint(clean, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid color %q: expected hex like #FF0000 or an integer", value)
	}
	return uint32(rgb), nil
}
