package micloud

import (
	"encoding/json"
	"fmt"
)

// Device is one entry of the cloud device list. The client only interprets
// DID and Model; the full server object is retained verbatim in Raw so
// callers can display or forward fields this struct does not name.
type Device struct {
	DID      string
	Name     string
	Model    string
	LocalIP  string
	Token    string
	IsOnline bool

	Raw map[string]any
}

// UnmarshalJSON decodes the named fields and keeps the complete object.
func (d *Device) UnmarshalJSON(data []byte) error {
	var known struct {
		DID      string `json:"did"`
		Name     string `json:"name"`
		Model    string `json:"model"`
		LocalIP  string `json:"localip"`
		Token    string `json:"token"`
		IsOnline bool   `json:"isOnline"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.DID = known.DID
	d.Name = known.Name
	d.Model = known.Model
	d.LocalIP = known.LocalIP
	d.Token = known.Token
	d.IsOnline = known.IsOnline
	d.Raw = raw
	return nil
}

// MarshalJSON emits the original server object when available.
func (d Device) MarshalJSON() ([]byte, error) {
	if d.Raw != nil {
		return json.Marshal(d.Raw)
	}
	return json.Marshal(map[string]any{
		"did":      d.DID,
		"name":     d.Name,
		"model":    d.Model,
		"localip":  d.LocalIP,
		"token":    d.Token,
		"isOnline": d.IsOnline,
	})
}

type deviceListResult struct {
	List []Device `json:"list"`
}

// GetDevices lists the account's devices. With dids the request is scoped
// to those ids, otherwise the full (non-virtual, non-Huami) inventory is
// returned. An empty region uses the session region.
func (c *Client) GetDevices(dids []string, region string) ([]Device, error) {
	var data any
	if len(dids) > 0 {
		data = map[string]any{"dids": dids}
	} else {
		data = map[string]any{"getVirtualModel": false, "getHuamiDevices": 0}
	}

	result, err := c.request("/home/device_list", data, region, "Get devices failed")
	if err != nil {
		return nil, err
	}

	var parsed deviceListResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("%w: device list: %v", ErrMalformedResponse, err)
	}
	return parsed.List, nil
}

// GetDevice is a convenience wrapper for a single-device lookup.
func (c *Client) GetDevice(did, region string) ([]Device, error) {
	return c.GetDevices([]string{did}, region)
}

// CallDevice invokes a miIO method on a device through the cloud RPC
// endpoint and returns the raw result. params may be nil.
func (c *Client) CallDevice(did, method string, params any, region string) (json.RawMessage, error) {
	data := map[string]any{"method": method, "params": params}
	fallback := fmt.Sprintf("Miio call for device %s failed", did)
	return c.request("/home/rpc/"+did, data, region, fallback)
}
