// Package output serializes a pipeline run's ProcessedItems into a fixed
// JSON array format: accepted entries first (in the given field order),
// discarded entries appended after.
package output

import (
	"encoding/json"
	"os"

	"github.com/stoskr/skinarb/internal/model"
)

// scrapedAtLayout is the fixed wire format: YYYY/MM/DD-HH:MM, UTC.
const scrapedAtLayout = "2006/01/02-15:04"

// Record is one output array entry. Field order is exact for accepted
// items; Reason is additional, discarded-only information appended after
// the accepted fields rather than disturbing their order.
type Record struct {
	ItemName      string   `json:"item_name"`
	Quality       string   `json:"quality,omitempty"`
	StatTrak      bool     `json:"stattrak"`
	Profitability *float64 `json:"profitability,omitempty"`
	ProfitEUR     *float64 `json:"profit_eur,omitempty"`
	BuffURL       string   `json:"buff_url,omitempty"`
	BuffPriceEUR  *float64 `json:"buff_price_eur,omitempty"`
	SteamURL      string   `json:"steam_url,omitempty"`
	SteamPriceEUR *float64 `json:"steam_price_eur,omitempty"`
	ScrapedAt     string   `json:"scraped_at,omitempty"`
	Source        string   `json:"source,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// BuildRecords projects items into Records, accepted items first in their
// original order, discarded items appended after.
func BuildRecords(items []model.ProcessedItem, source string) []Record {
	var accepted, discarded []Record
	for _, item := range items {
		if item.Outcome == model.Accepted {
			accepted = append(accepted, acceptedRecord(item, source))
		} else {
			discarded = append(discarded, discardedRecord(item))
		}
	}
	return append(accepted, discarded...)
}

func acceptedRecord(item model.ProcessedItem, source string) Record {
	roi := round2(item.Analysis.ROIPercent)
	profit := round2(item.Analysis.ProfitEUR)
	buyEUR := round2(item.Analysis.BuyAvgEUR)
	sellEUR := round2(item.Analysis.SellAvgEUR)
	return Record{
		ItemName:      item.Candidate.ItemName,
		Quality:       item.Candidate.Quality,
		StatTrak:      item.Candidate.StatTrak,
		Profitability: &roi,
		ProfitEUR:     &profit,
		BuffURL:       item.Candidate.CheapMarketURL,
		BuffPriceEUR:  &buyEUR,
		SteamURL:      item.Candidate.SteamMarketURL,
		SteamPriceEUR: &sellEUR,
		ScrapedAt:     item.ScrapedAt.UTC().Format(scrapedAtLayout),
		Source:        source,
	}
}

func discardedRecord(item model.ProcessedItem) Record {
	reason := string(item.Reason)
	if item.Detail != "" {
		reason = reason + " (" + item.Detail + ")"
	}
	return Record{
		ItemName: item.Candidate.ItemName,
		Quality:  item.Candidate.Quality,
		StatTrak: item.Candidate.StatTrak,
		Reason:   reason,
	}
}

func round2(f float64) float64 {
	return float64(int64(f*100+sign(f)*0.5)) / 100
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

// WriteFile marshals records as indented JSON to path.
func WriteFile(path string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
