package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/micloud/internal/cli/output"
	"github.com/marmos91/micloud/internal/cli/prompt"
	"github.com/marmos91/micloud/pkg/features"
	"github.com/marmos91/micloud/pkg/micloud"
)

// runSession drives the interactive flow: region, login, device browser.
func runSession(cmd *cobra.Command, args []string) error {
	client := micloud.New()
	client.SetHTTPTimeout(cfg.HTTPTimeout)

	region, err := chooseRegion()
	if err != nil {
		return abortToNil(err)
	}
	client.SetRegion(region)

	installChallengeHandlers(client)

	if err := loginLoop(client); err != nil {
		return abortToNil(err)
	}
	printer.Success(fmt.Sprintf("Logged in (user id %s, region %s)", client.UserID(), client.Region()))

	return abortToNil(browseDevices(client))
}

// abortToNil turns a prompt abort (Ctrl+C) into a clean exit.
func abortToNil(err error) error {
	if prompt.IsAborted(err) {
		printer.Println("Bye.")
		return nil
	}
	return err
}

// chooseRegion confirms the configured region or offers the full list.
func chooseRegion() (string, error) {
	ok, err := prompt.Confirm(fmt.Sprintf("Use region %q", cfg.Region), true)
	if err != nil {
		return "", err
	}
	if ok {
		return cfg.Region, nil
	}

	regions := micloud.Regions()
	items := make([]string, len(regions))
	for i, r := range regions {
		items[i] = fmt.Sprintf("%s - %s", r.Tag, r.Name)
	}
	idx, err := prompt.Select("Region", items)
	if err != nil {
		return "", err
	}
	return regions[idx].Tag, nil
}

// installChallengeHandlers wires CAPTCHA and two-factor prompts to the
// client's challenge slots. Each handler prompts on its own goroutine while
// the login flow stays parked inside Login; an empty answer cancels.
func installChallengeHandlers(client *micloud.Client) {
	client.SetCaptchaHandler(func(url string) {
		go func() {
			printer.Printf("CAPTCHA required, open: %s\n", url)
			code, err := prompt.Input("CAPTCHA code (empty to cancel)")
			if err != nil || code == "" {
				client.CaptchaCancel()
				return
			}
			client.CaptchaSolve(code)
		}()
	})

	client.SetTwoFactorHandler(func(flag, lastError string) {
		go func() {
			if lastError != "" {
				printer.Error(lastError)
			}
			channel := "phone"
			if flag == "8" {
				channel = "email"
			}
			code, err := prompt.Input(fmt.Sprintf("Verification code sent by %s (empty to cancel)", channel))
			if err != nil || code == "" {
				client.TwoFactorCancel()
				return
			}
			client.TwoFactorSolve(code)
		}()
	})
}

// loginLoop collects credentials and retries on server-side rejections.
func loginLoop(client *micloud.Client) error {
	for {
		username := cfg.Username
		if username != "" {
			printer.Printf("Using account %s from config\n", username)
		} else {
			var err error
			username, err = prompt.InputRequired("Username (email or Mi ID)")
			if err != nil {
				return err
			}
		}

		password, err := prompt.Password("Password")
		if err != nil {
			return err
		}

		printer.Println("Logging in...")
		err = client.Login(username, password)
		if err == nil {
			return nil
		}

		printer.Error(fmt.Sprintf("Login failed: %v", err))
		retry, cerr := prompt.Confirm("Try again", true)
		if cerr != nil {
			return cerr
		}
		if !retry {
			return err
		}
		// A stale username from config should not trap the user in a loop.
		cfg.Username = ""
	}
}

// deviceTable renders the device list for the browser.
func deviceTable(devices []micloud.Device) *output.TableData {
	table := output.NewTableData("#", "Name", "Model", "DID", "IP", "Online")
	for i, d := range devices {
		online := "no"
		if d.IsOnline {
			online = "yes"
		}
		table.AddRow(fmt.Sprintf("%d", i+1), d.Name, d.Model, d.DID, d.LocalIP, online)
	}
	return table
}

// browseDevices loops over the account's device list until the user quits.
func browseDevices(client *micloud.Client) error {
	for {
		printer.Println("Fetching devices...")
		devices, err := client.GetDevices(nil, "")
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			printer.Println("No devices on this account.")
			return nil
		}

		if err := output.PrintTable(printer.Out(), deviceTable(devices)); err != nil {
			return err
		}

		items := make([]string, 0, len(devices)+2)
		for _, d := range devices {
			items = append(items, fmt.Sprintf("%s (%s)", d.Name, d.Model))
		}
		items = append(items, "Refresh", "Quit")

		idx, err := prompt.Select("Device", items)
		if err != nil {
			return err
		}
		switch idx {
		case len(devices): // Refresh
			continue
		case len(devices) + 1: // Quit
			return nil
		}

		if err := deviceMenu(client, devices[idx]); err != nil {
			return err
		}
	}
}

// deviceMenu offers the model's feature catalog plus a raw command escape
// hatch.
func deviceMenu(client *micloud.Client, device micloud.Device) error {
	feats := features.ForModel(device.Model)

	for {
		items := make([]string, 0, len(feats)+2)
		for _, f := range feats {
			items = append(items, f.Label)
		}
		items = append(items, "Raw command", "Back")

		idx, err := prompt.Select(fmt.Sprintf("%s (%s)", device.Name, device.DID), items)
		if err != nil {
			return err
		}
		switch {
		case idx < len(feats):
			err = runFeature(client, device, feats[idx])
		case idx == len(feats):
			err = runRawCommand(client, device)
		default:
			return nil
		}
		if err != nil {
			if prompt.IsAborted(err) {
				return err
			}
			printer.Error(err.Error())
		}
	}
}

// runFeature shows the current value when readable, collects a new one and
// sends the resulting call.
func runFeature(client *micloud.Client, device micloud.Device, feat features.Feature) error {
	if feat.Readable() {
		call, err := feat.Get()
		if err != nil {
			return err
		}
		result, err := client.CallDevice(device.DID, call.Method, call.Params, "")
		if err != nil {
			return err
		}
		printer.Printf("%s: %s\n", feat.Label, result)
	}

	value, err := promptFeatureValue(feat)
	if err != nil {
		return err
	}
	if value == "" {
		return nil
	}

	call, err := feat.Set(value)
	if err != nil {
		return err
	}
	result, err := client.CallDevice(device.DID, call.Method, call.Params, "")
	if err != nil {
		return err
	}
	printer.Success(fmt.Sprintf("%s(%v) -> %s", call.Method, call.Params, result))
	return nil
}

// promptFeatureValue asks for a new value in the shape the control expects.
// An empty answer skips the write.
func promptFeatureValue(feat features.Feature) (string, error) {
	switch feat.Control.Kind {
	case features.Toggle:
		idx, err := prompt.Select(feat.Label, []string{"on", "off", "skip"})
		if err != nil {
			return "", err
		}
		return [3]string{"on", "off", ""}[idx], nil
	case features.Slider:
		return prompt.Input(fmt.Sprintf("%s (%d-%d, empty to skip)", feat.Label, feat.Control.Min, feat.Control.Max))
	case features.ColorPicker:
		value, err := prompt.Input(fmt.Sprintf("%s (#RRGGBB, empty to skip)", feat.Label))
		if err != nil || value == "" {
			return "", err
		}
		if _, err := features.ParseColor(value); err != nil {
			return "", err
		}
		return value, nil
	default:
		return prompt.Input(fmt.Sprintf("%s (empty to skip)", feat.Label))
	}
}

// runRawCommand sends an arbitrary miIO method with JSON params.
func runRawCommand(client *micloud.Client, device micloud.Device) error {
	method, err := prompt.InputRequired("Method (e.g. get_prop)")
	if err != nil {
		return err
	}
	paramsJSON, err := prompt.Input("Params as JSON (default [])")
	if err != nil {
		return err
	}
	if paramsJSON == "" {
		paramsJSON = "[]"
	}

	var params any
	if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}

	result, err := client.CallDevice(device.DID, method, params, "")
	if err != nil {
		return err
	}
	printer.Printf("%s\n", result)
	return nil
}
