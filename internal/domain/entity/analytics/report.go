package analytics

import marketdata "main/internal/domain/entity/marketdata"

// Report is the analytics snapshot pushed to the presentation layer after
// every recorded trade and after every bucket rollover.
type Report struct {
	LargeBuys       []marketdata.Trade `json:"large_buys"`
	LargeSells      []marketdata.Trade `json:"large_sells"`
	VelocityPercent int                `json:"velocity_percent"`
	MinuteCount     int                `json:"minute_count"`
	FiveMinuteCount int                `json:"five_minute_count"`
}
