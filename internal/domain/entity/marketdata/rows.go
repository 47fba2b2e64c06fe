package marketdata

import "github.com/shopspring/decimal"

// AggregatedRow is one rendered glass row: a distinct price level seen in
// the current snapshot or the cumulative trade-volume table. The trailing
// total row has IsTotal set and carries only the volume sums.
type AggregatedRow struct {
	Price       decimal.Decimal `json:"price"`
	BidQuantity *int64          `json:"bid_quantity,omitempty"`
	AskQuantity *int64          `json:"ask_quantity,omitempty"`
	BuyVolume   int64           `json:"cumulative_buy_volume"`
	SellVolume  int64           `json:"cumulative_sell_volume"`
	IsLastPrice bool            `json:"is_last_price,omitempty"`
	IsTotal     bool            `json:"is_total,omitempty"`
}
