package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// TrackingStatus is the normalized carrier status.
type TrackingStatus string

const (
	TrackingPending        TrackingStatus = "pending"
	TrackingInTransit      TrackingStatus = "in_transit"
	TrackingOutForDelivery TrackingStatus = "out_for_delivery"
	TrackingDelivered      TrackingStatus = "delivered"
	TrackingException      TrackingStatus = "exception"
	TrackingUnknown        TrackingStatus = "unknown"
)

// CarrierInfo describes a supported carrier.
type CarrierInfo struct {
	Name        string
	TrackingURL string
}

// Carriers is the supported carrier set, keyed by carrier code.
var Carriers = map[string]CarrierInfo{
	"ups":        {Name: "UPS", TrackingURL: "https://www.ups.com/track?tracknum="},
	"usps":       {Name: "USPS", TrackingURL: "https://tools.usps.com/go/TrackConfirmAction?tLabels="},
	"fedex":      {Name: "FedEx", TrackingURL: "https://www.fedex.com/fedextrack/?trknbr="},
	"dhl":        {Name: "DHL", TrackingURL: "https://www.dhl.com/en/express/tracking.html?AWB="},
	"canadapost": {Name: "Canada Post", TrackingURL: "https://www.canadapost-postescanada.ca/track-reperage/en#/search?searchFor="},
}

// TrackingURL returns the carrier's public tracking page for a number, or ""
// for an unknown carrier.
func TrackingURL(carrier, trackingNumber string) string {
	info, ok := Carriers[carrier]
	if !ok {
		return ""
	}
	return info.TrackingURL + trackingNumber
}

// TrackingEvent is one scan event reported by the carrier.
type TrackingEvent struct {
	Date        string `json:"date"`
	Status      string `json:"status"`
	Location    string `json:"location,omitempty"`
	Description string `json:"description"`
}

// TrackingInfo is the normalized lookup result.
type TrackingInfo struct {
	Status            TrackingStatus  `json:"status"`
	EstimatedDelivery string          `json:"estimated_delivery,omitempty"`
	Events            []TrackingEvent `json:"events"`
	LastUpdated       time.Time       `json:"last_updated"`
}

// TrackingClient looks up shipment status from the carrier aggregator.
// Without an API key every lookup degrades to "no details available"
// (nil info, nil error) rather than failing the caller.
type TrackingClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewTrackingClient creates a new carrier tracking client
func NewTrackingClient(apiKey, baseURL string) *TrackingClient {
	return &TrackingClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     util.GetLogger(),
	}
}

// FetchTrackingInfo registers the number and queries its current status.
// Returns (nil, nil) when tracking is unavailable.
func (c *TrackingClient) FetchTrackingInfo(ctx context.Context, carrier, trackingNumber string) (*TrackingInfo, error) {
	if c.apiKey == "" {
		c.logger.Debug("No tracking API key, using manual mode")
		return nil, nil
	}

	registerBody, err := json.Marshal([]map[string]interface{}{
		{"number": trackingNumber, "carrier": aggregatorCarrierCode(carrier)},
	})
	if err != nil {
		return nil, err
	}
	if err := c.post(ctx, "/track/v2/register", registerBody, nil); err != nil {
		c.logger.Warn("Tracking registration failed", zap.Error(err))
		return nil, nil
	}

	queryBody, err := json.Marshal([]map[string]interface{}{
		{"number": trackingNumber},
	})
	if err != nil {
		return nil, err
	}

	var raw aggregatorResponse
	if err := c.post(ctx, "/track/v2/gettrackinfo", queryBody, &raw); err != nil {
		c.logger.Warn("Tracking lookup failed", zap.Error(err))
		return nil, nil
	}

	return parseTrackingResponse(&raw), nil
}

func (c *TrackingClient) post(ctx context.Context, path string, body []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("17token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("tracking API returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// aggregatorCarrierCode maps our carrier codes to the aggregator's numeric
// ones; 0 lets the aggregator auto-detect.
func aggregatorCarrierCode(carrier string) int {
	switch carrier {
	case "usps":
		return 21051
	case "ups":
		return 100002
	default:
		return 0
	}
}

type aggregatorResponse struct {
	Data struct {
		Accepted []struct {
			TrackInfo *struct {
				LatestStatus struct {
					Status string `json:"status"`
				} `json:"latest_status"`
				TimeMetrics struct {
					EstimatedDeliveryDate struct {
						From string `json:"from"`
					} `json:"estimated_delivery_date"`
				} `json:"time_metrics"`
				Tracking struct {
					Providers []struct {
						Events []struct {
							TimeUTC     string `json:"time_utc"`
							TimeRaw     string `json:"time_raw"`
							Stage       string `json:"stage"`
							Location    string `json:"location"`
							Description string `json:"description"`
						} `json:"events"`
					} `json:"providers"`
				} `json:"tracking"`
			} `json:"track_info"`
		} `json:"accepted"`
	} `json:"data"`
}

func parseTrackingResponse(raw *aggregatorResponse) *TrackingInfo {
	if len(raw.Data.Accepted) == 0 || raw.Data.Accepted[0].TrackInfo == nil {
		return nil
	}
	trackInfo := raw.Data.Accepted[0].TrackInfo

	var events []TrackingEvent
	for _, provider := range trackInfo.Tracking.Providers {
		for _, ev := range provider.Events {
			date := ev.TimeUTC
			if date == "" {
				date = ev.TimeRaw
			}
			events = append(events, TrackingEvent{
				Date:        date,
				Status:      ev.Stage,
				Location:    ev.Location,
				Description: ev.Description,
			})
		}
	}

	return &TrackingInfo{
		Status:            mapCarrierStatus(trackInfo.LatestStatus.Status),
		EstimatedDelivery: trackInfo.TimeMetrics.EstimatedDeliveryDate.From,
		Events:            events,
		LastUpdated:       time.Now().UTC(),
	}
}

func mapCarrierStatus(status string) TrackingStatus {
	switch strings.ToLower(status) {
	case "delivered":
		return TrackingDelivered
	case "intransit", "transit":
		return TrackingInTransit
	case "outfordelivery":
		return TrackingOutForDelivery
	case "exception", "expired", "undelivered":
		return TrackingException
	case "notfound", "pending":
		return TrackingPending
	default:
		return TrackingUnknown
	}
}
