package interfaces

import (
	"context"

	instruments "main/internal/domain/entity/instruments"
)

// InstrumentsDirectory lists and searches tradable instruments. It only
// populates selection; the streaming core never consults it.
type InstrumentsDirectory interface {
	ListInstruments(ctx context.Context, classCode string) ([]instruments.Instrument, error)
	SearchInstruments(ctx context.Context, query string) ([]instruments.Instrument, error)
}
