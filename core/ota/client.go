// Package ota talks to the provisioning backend: it reports the running
// firmware, learns about newer versions and pending activation, polls the
// activation endpoint, and downloads firmware images into a board-supplied
// flasher.
package ota

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	// ErrTimeout reports that the activation endpoint is still waiting for
	// the user; the caller retries on a short interval.
	ErrTimeout = errors.New("ota: activation pending")

	ErrNoFlasher = errors.New("ota: no flasher configured")
)

// Flasher abstracts the board-specific firmware partition handling.
type Flasher interface {
	// Begin prepares the target partition for an image of the given size.
	Begin(size int64) error
	// Write appends an image chunk.
	Write(chunk []byte) error
	// Commit finalizes the image and selects it for the next boot.
	Commit() error
	// MarkValid confirms the currently running image so the bootloader will
	// not roll back.
	MarkValid()
}

type Config struct {
	CheckURL       string
	AccessToken    string
	DeviceID       string
	ClientID       string
	CurrentVersion string
	UserAgent      string
}

type checkResponse struct {
	Firmware struct {
		Version string `json:"version"`
		URL     string `json:"url"`
	} `json:"firmware"`
	Activation struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		Challenge string `json:"challenge"`
	} `json:"activation"`
	Websocket struct {
		URL   string `json:"url"`
		Token string `json:"token"`
	} `json:"websocket"`
	Mqtt struct {
		Endpoint string `json:"endpoint"`
	} `json:"mqtt"`
	ServerTime struct {
		Timestamp int64 `json:"timestamp"`
	} `json:"server_time"`
}

// Client implements the update-controller contract over HTTP.
type Client struct {
	config  Config
	client  *http.Client
	flasher Flasher

	mu   sync.Mutex
	last *checkResponse
}

type ClientOption func(*Client)

// WithFlasher wires the board-specific firmware partition handler.
func WithFlasher(flasher Flasher) ClientOption {
	return func(c *Client) {
		c.flasher = flasher
	}
}

func NewClient(config Config, opts ...ClientOption) *Client {
	c := &Client{
		config: config,
		client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return "ota " + request.Method + " " + request.URL.Path
			}))},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckVersion reports the device to the backend and records the response:
// newer firmware, activation requirement and transport configuration.
func (c *Client) CheckVersion(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "check version")
	defer span.End()

	body, err := json.Marshal(struct {
		Version  string `json:"version"`
		DeviceID string `json:"device_id"`
		ClientID string `json:"client_id"`
	}{
		Version:  c.config.CurrentVersion,
		DeviceID: c.config.DeviceID,
		ClientID: c.config.ClientID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode version report: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.CheckURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build version check request: %w", err)
	}
	c.decorate(request)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("version check failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("version check failed: unexpected status %s", response.Status)
	}

	parsed := &checkResponse{}
	if err := json.NewDecoder(response.Body).Decode(parsed); err != nil {
		return fmt.Errorf("failed to decode version check response: %w", err)
	}

	c.mu.Lock()
	c.last = parsed
	c.mu.Unlock()

	logger.Info("version check succeeded",
		"current", c.config.CurrentVersion,
		"available", parsed.Firmware.Version,
		"activation_required", parsed.Activation.Code != "" || parsed.Activation.Challenge != "")
	return nil
}

func (c *Client) CheckVersionURL() string { return c.config.CheckURL }

func (c *Client) CurrentVersion() string { return c.config.CurrentVersion }

func (c *Client) HasNewVersion() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil || c.last.Firmware.Version == "" {
		return false
	}
	return compareVersions(c.last.Firmware.Version, c.config.CurrentVersion) > 0
}

func (c *Client) FirmwareURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return ""
	}
	return c.last.Firmware.URL
}

func (c *Client) FirmwareVersion() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return ""
	}
	return c.last.Firmware.Version
}

func (c *Client) MarkCurrentVersionValid() {
	if c.flasher != nil {
		c.flasher.MarkValid()
	}
	logger.Info("running version marked valid", "version", c.config.CurrentVersion)
}

func (c *Client) HasActivationCode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last != nil && c.last.Activation.Code != ""
}

func (c *Client) HasActivationChallenge() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last != nil && c.last.Activation.Challenge != ""
}

func (c *Client) ActivationCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return ""
	}
	return c.last.Activation.Code
}

func (c *Client) ActivationMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return ""
	}
	return c.last.Activation.Message
}

// Activate polls the activation endpoint once. ErrTimeout means the user has
// not finished entering the code yet; any other error is a transport or
// server failure.
func (c *Client) Activate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "activate")
	defer span.End()

	c.mu.Lock()
	challenge := ""
	if c.last != nil {
		challenge = c.last.Activation.Challenge
	}
	c.mu.Unlock()

	body, err := json.Marshal(struct {
		Challenge string `json:"challenge"`
		DeviceID  string `json:"device_id"`
	}{Challenge: challenge, DeviceID: c.config.DeviceID})
	if err != nil {
		return fmt.Errorf("failed to encode activation request: %w", err)
	}

	activateURL := strings.TrimSuffix(c.config.CheckURL, "/") + "/activate"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, activateURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build activation request: %w", err)
	}
	c.decorate(request)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return fmt.Errorf("activation request failed: %w", err)
	}
	defer response.Body.Close()

	switch response.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusAccepted:
		return ErrTimeout
	default:
		return fmt.Errorf("activation failed: unexpected status %s", response.Status)
	}
}

func (c *Client) HasWebsocketConfig() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last != nil && c.last.Websocket.URL != ""
}

func (c *Client) WebsocketConfig() (url, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return "", ""
	}
	return c.last.Websocket.URL, c.last.Websocket.Token
}

func (c *Client) HasMqttConfig() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last != nil && c.last.Mqtt.Endpoint != ""
}

// Upgrade downloads the image at url into the configured flasher, reporting
// progress as (percent, bytes per second). On success the device is expected
// to reboot; failure leaves the running image untouched.
func (c *Client) Upgrade(ctx context.Context, url string, progress func(percent int, bytesPerSec int)) error {
	if c.flasher == nil {
		return ErrNoFlasher
	}
	return Download(ctx, c.client, url, c.flasher, progress)
}

func (c *Client) decorate(request *http.Request) {
	if c.config.AccessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	}
	if c.config.UserAgent != "" {
		request.Header.Set("User-Agent", c.config.UserAgent)
	}
	request.Header.Set("Device-Id", c.config.DeviceID)
	request.Header.Set("Client-Id", c.config.ClientID)
}

// compareVersions compares dotted numeric versions, returning -1, 0 or 1.
// Non-numeric segments compare lexically so arbitrary tags still order
// deterministically.
func compareVersions(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")

	for i := 0; i < len(aParts) || i < len(bParts); i++ {
		aPart, bPart := "0", "0"
		if i < len(aParts) {
			aPart = aParts[i]
		}
		if i < len(bParts) {
			bPart = bParts[i]
		}

		aNum, aErr := strconv.Atoi(aPart)
		bNum, bErr := strconv.Atoi(bPart)
		if aErr == nil && bErr == nil {
			if aNum != bNum {
				if aNum < bNum {
					return -1
				}
				return 1
			}
			continue
		}
		if aPart != bPart {
			if aPart < bPart {
				return -1
			}
			return 1
		}
	}
	return 0
}
