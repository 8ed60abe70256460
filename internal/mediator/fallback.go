package mediator

import (
	"encoding/json"
	"time"
)

type fallbackPrice struct {
	Price  int    `json:"price"`
	Unit   string `json:"unit"`
	Trend  string `json:"trend"`
	Source string `json:"source"`
}

type offlineMarketPayload struct {
	Prices      map[string]fallbackPrice `json:"prices"`
	LastUpdated string                   `json:"last_updated"`
	Sources     []string                 `json:"sources"`
	Note        string                   `json:"note"`
}

// marketFallback is the fixed payload served when a market-data request can
// reach neither the network nor the cache. The UI renders it like any live
// response; only last_updated varies.
func marketFallback(now time.Time) []byte {
	payload := offlineMarketPayload{
		Prices: map[string]fallbackPrice{
			"turmeric": {Price: 180, Unit: "per kg", Trend: "stable", Source: "offline"},
			"rice":     {Price: 25, Unit: "per kg", Trend: "stable", Source: "offline"},
		},
		LastUpdated: now.UTC().Format(time.RFC3339),
		Sources:     []string{"Offline Cache"},
		Note:        "You are currently offline. Prices may not be current.",
	}
	raw, _ := json.Marshal(payload)
	return raw
}
