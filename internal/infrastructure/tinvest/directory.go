package tinvest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	investgo "github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/sirupsen/logrus"

	instruments "main/internal/domain/entity/instruments"
	interfaces "main/internal/domain/interfaces"
)

const (
	ClassCodeShares  = "TQBR"
	ClassCodeFutures = "SPBFUT"
)

// Directory lists tradable shares and futures and resolves free-form
// search queries against the provider's instrument reference data.
type Directory struct {
	client *investgo.InstrumentsServiceClient
	logger *logrus.Entry
}

var _ interfaces.InstrumentsDirectory = (*Directory)(nil)

func NewDirectory(client *investgo.Client, logger *logrus.Logger) *Directory {
	return &Directory{
		client: client.NewInstrumentsServiceClient(),
		logger: logger.WithField("component", "tinvest_directory"),
	}
}

func (d *Directory) ListInstruments(ctx context.Context, classCode string) ([]instruments.Instrument, error) {
	switch strings.ToUpper(strings.TrimSpace(classCode)) {
	case ClassCodeShares:
		return d.listShares()
	case ClassCodeFutures:
		return d.listFutures()
	default:
		return nil, fmt.Errorf("unsupported class code %q", classCode)
	}
}

func (d *Directory) listShares() ([]instruments.Instrument, error) {
	resp, err := d.client.Shares(pb.InstrumentStatus_INSTRUMENT_STATUS_BASE)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	result := make([]instruments.Instrument, 0, len(resp.GetInstruments()))
	for _, share := range resp.GetInstruments() {
		if share == nil || share.GetClassCode() != ClassCodeShares {
			continue
		}
		if !share.GetApiTradeAvailableFlag() {
			continue
		}
		result = append(result, instruments.Instrument{
			Ticker:    share.GetTicker(),
			ClassCode: share.GetClassCode(),
			Figi:      share.GetFigi(),
			UID:       share.GetUid(),
			Name:      share.GetName(),
			Tradable:  true,
		})
	}
	sortByTicker(result)
	return result, nil
}

func (d *Directory) listFutures() ([]instruments.Instrument, error) {
	resp, err := d.client.Futures(pb.InstrumentStatus_INSTRUMENT_STATUS_BASE)
	if err != nil {
		return nil, fmt.Errorf("list futures: %w", err)
	}
	result := make([]instruments.Instrument, 0, len(resp.GetInstruments()))
	for _, future := range resp.GetInstruments() {
		if future == nil || future.GetClassCode() != ClassCodeFutures {
			continue
		}
		if !future.GetApiTradeAvailableFlag() {
			continue
		}
		result = append(result, instruments.Instrument{
			Ticker:    future.GetTicker(),
			ClassCode: future.GetClassCode(),
			Figi:      future.GetFigi(),
			UID:       future.GetUid(),
			Name:      future.GetName(),
			Tradable:  true,
		})
	}
	sortByTicker(result)
	return result, nil
}

func (d *Directory) SearchInstruments(ctx context.Context, query string) ([]instruments.Instrument, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("search query is empty")
	}
	resp, err := d.client.FindInstrument(query)
	if err != nil {
		return nil, fmt.Errorf("find instrument %q: %w", query, err)
	}
	result := make([]instruments.Instrument, 0, len(resp.GetInstruments()))
	for _, item := range resp.GetInstruments() {
		if item == nil {
			continue
		}
		result = append(result, instruments.Instrument{
			Ticker:    item.GetTicker(),
			ClassCode: item.GetClassCode(),
			Figi:      item.GetFigi(),
			UID:       item.GetUid(),
			Name:      item.GetName(),
			Tradable:  item.GetApiTradeAvailableFlag(),
		})
	}
	return result, nil
}

func sortByTicker(list []instruments.Instrument) {
	sort.Slice(list, func(i, j int) bool {
		return list[i].Ticker < list[j].Ticker
	})
}
