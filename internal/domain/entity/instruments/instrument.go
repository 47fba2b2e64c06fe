package instruments

// Instrument is a tradable instrument reference used to populate selection
// and to resolve ticker/class-code pairs into a streamable instrument id.
type Instrument struct {
	Ticker    string `json:"ticker"`
	ClassCode string `json:"class_code"`
	Figi      string `json:"figi"`
	UID       string `json:"uid"`
	Name      string `json:"name"`
	Tradable  bool   `json:"tradable"`
}

// StreamID returns the identifier to subscribe with: the instrument UID
// when the provider reports one, the FIGI otherwise.
func (i Instrument) StreamID() string {
	if i.UID != "" {
		return i.UID
	}
	return i.Figi
}
