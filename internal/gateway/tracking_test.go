package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackingURL(t *testing.T) {
	assert.Equal(t,
		"https://www.ups.com/track?tracknum=1Z999AA10123456784",
		TrackingURL("ups", "1Z999AA10123456784"))
	assert.Equal(t, "", TrackingURL("carrier-pigeon", "123"))
}

func TestMapCarrierStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want TrackingStatus
	}{
		{"Delivered", TrackingDelivered},
		{"InTransit", TrackingInTransit},
		{"transit", TrackingInTransit},
		{"OutForDelivery", TrackingOutForDelivery},
		{"Exception", TrackingException},
		{"Expired", TrackingException},
		{"Undelivered", TrackingException},
		{"NotFound", TrackingPending},
		{"pending", TrackingPending},
		{"", TrackingUnknown},
		{"something-new", TrackingUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapCarrierStatus(tt.raw), "status %q", tt.raw)
	}
}

func TestAggregatorCarrierCode(t *testing.T) {
	assert.Equal(t, 21051, aggregatorCarrierCode("usps"))
	assert.Equal(t, 100002, aggregatorCarrierCode("ups"))
	assert.Equal(t, 0, aggregatorCarrierCode("fedex"))
	assert.Equal(t, 0, aggregatorCarrierCode(""))
}

func TestParseTrackingResponse(t *testing.T) {
	sample := []byte(`{
		"data": {
			"accepted": [{
				"track_info": {
					"latest_status": {"status": "InTransit"},
					"time_metrics": {"estimated_delivery_date": {"from": "2025-06-05"}},
					"tracking": {
						"providers": [{
							"events": [
								{"time_utc": "2025-06-02T10:00:00Z", "stage": "InTransit", "location": "Toronto, ON", "description": "Departed facility"},
								{"time_raw": "2025-06-01 08:00", "stage": "InfoReceived", "description": "Label created"}
							]
						}]
					}
				}
			}]
		}
	}`)

	var raw aggregatorResponse
	require.NoError(t, json.Unmarshal(sample, &raw))

	info := parseTrackingResponse(&raw)
	require.NotNil(t, info)
	assert.Equal(t, TrackingInTransit, info.Status)
	assert.Equal(t, "2025-06-05", info.EstimatedDelivery)
	require.Len(t, info.Events, 2)
	assert.Equal(t, "2025-06-02T10:00:00Z", info.Events[0].Date)
	assert.Equal(t, "Toronto, ON", info.Events[0].Location)
	// time_raw fills in when the carrier reports no UTC timestamp.
	assert.Equal(t, "2025-06-01 08:00", info.Events[1].Date)
	assert.False(t, info.LastUpdated.IsZero())
}

func TestParseTrackingResponseEmpty(t *testing.T) {
	var raw aggregatorResponse
	require.NoError(t, json.Unmarshal([]byte(`{"data":{"accepted":[]}}`), &raw))
	assert.Nil(t, parseTrackingResponse(&raw))

	require.NoError(t, json.Unmarshal([]byte(`{"data":{"accepted":[{"track_info":null}]}}`), &raw))
	assert.Nil(t, parseTrackingResponse(&raw))
}

func TestFetchTrackingInfoManualMode(t *testing.T) {
	c := NewTrackingClient("", "https://api.17track.net")

	info, err := c.FetchTrackingInfo(context.Background(), "ups", "1Z999AA10123456784")
	assert.NoError(t, err)
	assert.Nil(t, info)
}
