// Package thinq is a minimal client for the LG ThinQ cloud API, covering the
// two calls this system needs: listing account devices and reading per-day
// energy usage.
package thinq

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/thinq-energy-sync/internal/db"
)

// ThinQ API result codes
const (
	CodeNormal               = "0000"
	CodeNotOwnedDevice       = "1212"
	CodeNotSupportedProperty = "1220"
	CodeNotSupportedProduct  = "1221"
	CodeNotSupportedCountry  = "1307"
	CodeFailRequest          = "2214"
)

var resultCodeNames = map[string]string{
	CodeNormal:               "normal response",
	CodeNotOwnedDevice:       "not owned device",
	CodeNotSupportedProperty: "not supported property",
	CodeNotSupportedProduct:  "not supported product",
	CodeNotSupportedCountry:  "not supported country",
	CodeFailRequest:          "fail request",
}

const usageDateFormat = "20060102"

// maxSpanDays is the widest date range the energy usage endpoint accepts.
const maxSpanDays = 30

// Client calls the LG ThinQ API. It performs no retries; retry policy
// belongs to the queue consumer boundary.
type Client struct {
	baseURL    string
	country    string
	apiKey     string
	clientID   string
	token      string
	httpClient *http.Client
}

// NewClient creates a ThinQ API client
func NewClient(baseURL, country, apiKey, clientID, token string) *Client {
	return &Client{
		baseURL:  baseURL,
		country:  country,
		apiKey:   apiKey,
		clientID: clientID,
		token:    token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type deviceInfo struct {
	DeviceType string `json:"deviceType"`
	ModelName  string `json:"modelName"`
	Alias      string `json:"alias"`
}

type deviceEntry struct {
	DeviceID   string     `json:"deviceId"`
	DeviceInfo deviceInfo `json:"deviceInfo"`
}

type devicesResponse struct {
	Response []deviceEntry `json:"response"`
}

type usageEntry struct {
	UsedDate    string  `json:"usedDate"`
	EnergyUsage float64 `json:"energyUsage"`
}

type usageResult struct {
	DataList []usageEntry `json:"dataList"`
}

type usageBody struct {
	ResultCode string      `json:"resultCode"`
	Result     usageResult `json:"result"`
}

type usageResponse struct {
	Response usageBody `json:"response"`
}

// GetDevices lists all devices registered to the account
func (c *Client) GetDevices(ctx context.Context) ([]db.Device, error) {
	var parsed devicesResponse
	if err := c.get(ctx, c.baseURL+"/devices", nil, &parsed); err != nil {
		return nil, err
	}

	devices := make([]db.Device, 0, len(parsed.Response))
	for _, entry := range parsed.Response {
		devices = append(devices, db.Device{
			ID:         entry.DeviceID,
			DeviceType: entry.DeviceInfo.DeviceType,
			ModelName:  entry.DeviceInfo.ModelName,
			Alias:      entry.DeviceInfo.Alias,
		})
	}
	return devices, nil
}

// GetEnergyUsage fetches daily energy usage for one device over the
// inclusive range [start, end]. The span must be 0-30 days.
func (c *Client) GetEnergyUsage(ctx context.Context, deviceID string, start, end time.Time) ([]db.EnergyUsage, error) {
	days := int(end.Sub(start).Hours() / 24)
	if days < 0 || days > maxSpanDays {
		return nil, &InvalidRangeError{Start: start, End: end}
	}

	params := url.Values{}
	params.Set("period", "DAILY")
	params.Set("startDate", start.Format(usageDateFormat))
	params.Set("endDate", end.Format(usageDateFormat))

	var parsed usageResponse
	endpoint := fmt.Sprintf("%s/devices/energy/%s/usage", c.baseURL, deviceID)
	if err := c.get(ctx, endpoint, params, &parsed); err != nil {
		return nil, err
	}

	if parsed.Response.ResultCode != CodeNormal {
		return nil, &VendorRejectedError{Code: parsed.Response.ResultCode}
	}

	records := make([]db.EnergyUsage, 0, len(parsed.Response.Result.DataList))
	for _, entry := range parsed.Response.Result.DataList {
		usedDate, err := time.Parse(usageDateFormat, entry.UsedDate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse used date %q: %w", entry.UsedDate, err)
		}
		record, err := db.NewEnergyUsage(deviceID, usedDate, entry.EnergyUsage)
		if err != nil {
			return nil, fmt.Errorf("invalid usage entry for %s: %w", entry.UsedDate, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}

	req.Header.Set("x-message-id", uuid.NewString())
	req.Header.Set("x-country", c.country)
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("x-client-id", c.clientID)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &VendorUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &VendorUnavailableError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode thinq response: %w", err)
	}
	return nil
}
