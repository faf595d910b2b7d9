package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// record is the persisted form shared by the file and SQL stores.
type record struct {
	Balance     string `json:"balance"`
	LastUpdated string `json:"last_updated"`
}

func encode(b Balance) record {
	return record{
		Balance:     b.Amount.StringFixed(2),
		LastUpdated: b.LastUpdated.UTC().Format(time.RFC3339),
	}
}

func (r record) decode() (Balance, error) {
	amt, err := decimal.NewFromString(r.Balance)
	if err != nil {
		return Balance{}, fmt.Errorf("%w: balance %q: %v", ErrCorrupt, r.Balance, err)
	}
	var ts time.Time
	if r.LastUpdated != "" {
		if ts, err = time.Parse(time.RFC3339, r.LastUpdated); err != nil {
			return Balance{}, fmt.Errorf("%w: last_updated %q: %v", ErrCorrupt, r.LastUpdated, err)
		}
	}
	return Balance{Amount: amt, LastUpdated: ts}, nil
}

func decodeJSON(b []byte) (Balance, error) {
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return Balance{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return r.decode()
}
