package oauth

import (
	"context"
	"fmt"
	"time"

	"qwenauth/pkg/logging"
)

const (
	// defaultPollInterval is used when the provider gives no interval hint.
	defaultPollInterval = 2 * time.Second

	// maxPollInterval caps slow_down adjustments.
	maxPollInterval = 10 * time.Second
)

// Progress receives login-flow status updates, e.g. a terminal spinner.
type Progress interface {
	Update(message string)
	Stop(message string)
}

// noProgress is the default no-op Progress.
type noProgress struct{}

func (noProgress) Update(string) {}
func (noProgress) Stop(string)   {}

// LoginOptions customizes the interactive device-code flow. The zero
// value prints to stdout and does not open a browser.
type LoginOptions struct {
	// OpenURL opens the verification URL in a browser. A failure is
	// ignored: the URL has already been shown for manual copy/paste.
	OpenURL func(url string) error

	// Notify displays an instruction block to the user. Defaults to
	// printing to stdout.
	Notify func(message string)

	// Progress tracks the waiting phase. Defaults to no output.
	Progress Progress
}

// Login runs the complete device-code flow: generate PKCE, request a
// device code, show the verification URL and user code, then poll until
// the user approves, the provider reports a terminal error, or the
// device code expires.
//
// Pending polls are silent; slow_down hints raise the interval by 1.5x
// up to 10s and it never decreases.
func (c *Client) Login(ctx context.Context, opts LoginOptions) (*Token, error) {
	if opts.Notify == nil {
		opts.Notify = func(message string) { fmt.Println(message) }
	}
	if opts.Progress == nil {
		opts.Progress = noProgress{}
	}

	verifier, challenge, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}

	device, err := c.RequestDeviceCode(ctx, challenge)
	if err != nil {
		return nil, err
	}

	verificationURL := device.VerificationURIComplete
	if verificationURL == "" {
		verificationURL = device.VerificationURI
	}

	opts.Notify(fmt.Sprintf("Open %s to approve access.\nIf prompted, enter the code %s.",
		verificationURL, device.UserCode))

	if opts.OpenURL != nil {
		if err := opts.OpenURL(verificationURL); err != nil {
			logging.Debug("OAuth", "Browser open failed, falling back to manual copy/paste: %v", err)
		}
	}

	interval := defaultPollInterval
	if device.Interval > 0 {
		interval = time.Duration(device.Interval) * time.Second
	}
	deadline := time.Now().Add(time.Duration(device.ExpiresIn) * time.Second)

	for time.Now().Before(deadline) {
		opts.Progress.Update("Waiting for Qwen OAuth approval…")

		result, err := c.PollDeviceToken(ctx, device.DeviceCode, verifier)
		if err != nil {
			opts.Progress.Stop("Qwen OAuth failed")
			return nil, err
		}

		switch r := result.(type) {
		case PollSuccess:
			opts.Progress.Stop("Qwen OAuth complete")
			logging.Info("OAuth", "Device flow complete, access token %s",
				logging.TruncateSecret(r.Token.AccessToken))
			return r.Token, nil

		case PollError:
			opts.Progress.Stop("Qwen OAuth failed")
			return nil, fmt.Errorf("qwen oauth failed: %s", r.Message)

		case PollPending:
			if r.SlowDown {
				interval = min(interval*3/2, maxPollInterval)
				logging.Debug("OAuth", "Provider requested slow_down, interval now %v", interval)
			}
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			opts.Progress.Stop("Qwen OAuth canceled")
			return nil, ctx.Err()
		}
	}

	opts.Progress.Stop("Qwen OAuth timed out")
	return nil, fmt.Errorf("qwen oauth timed out waiting for authorization")
}
