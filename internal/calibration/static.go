package calibration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNoZeroPoint is returned when a service has no record for a query.
var ErrNoZeroPoint = errors.New("no zero point for query")

// Entry is a configured calibration epoch with raw, unnormalized values.
type Entry struct {
	Instrument string  `json:"instrument" yaml:"instrument" mapstructure:"instrument"`
	Filter     string  `json:"filter" yaml:"filter" mapstructure:"filter"`
	Date       string  `json:"date" yaml:"date" mapstructure:"date"`
	System     string  `json:"system" yaml:"system" mapstructure:"system"`
	ZeroPoint  float64 `json:"zeropoint" yaml:"zeropoint" mapstructure:"zeropoint"`
	PhotFlam   float64 `json:"photflam" yaml:"photflam" mapstructure:"photflam"`
	PhotPlam   float64 `json:"photplam" yaml:"photplam" mapstructure:"photplam"`
}

// StaticTable answers queries from a fixed set of calibration epochs.
//
// A record applies from its date until the next record for the same
// instrument, filter and system, so a query is answered by the latest record
// dated on or before the observation.
type StaticTable struct {
	epochs map[string][]ZeroPoint // sorted by date
}

func tableKey(inst Instrument, filter, system string) string {
	return string(inst) + "|" + strings.ToUpper(filter) + "|" + strings.ToLower(system)
}

// NewStaticTable normalizes entries into a table.
func NewStaticTable(entries []Entry) (*StaticTable, error) {
	t := &StaticTable{epochs: make(map[string][]ZeroPoint)}
	for i, e := range entries {
		q, err := NewQuery(e.Instrument, e.Filter, e.Date, e.System)
		if err != nil {
			return nil, fmt.Errorf("calibration entry %d: %w", i, err)
		}
		k := tableKey(q.Instrument, q.Filter, q.System)
		t.epochs[k] = append(t.epochs[k], ZeroPoint{
			Instrument: q.Instrument,
			Filter:     q.Filter,
			Date:       q.Date,
			System:     q.System,
			ZeroPoint:  e.ZeroPoint,
			PhotFlam:   e.PhotFlam,
			PhotPlam:   e.PhotPlam,
		})
	}
	for _, list := range t.epochs {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Date.Before(list[j].Date) })
	}
	return t, nil
}

// Lookup returns the record in force on the query date.
func (t *StaticTable) Lookup(ctx context.Context, q Query) (ZeroPoint, error) {
	if err := ctx.Err(); err != nil {
		return ZeroPoint{}, &LookupError{Query: q, Err: err}
	}

	list := t.epochs[tableKey(q.Instrument, q.Filter, q.System)]
	i := sort.Search(len(list), func(i int) bool { return list[i].Date.After(q.Date) })
	if i == 0 {
		return ZeroPoint{}, &LookupError{Query: q, Err: ErrNoZeroPoint}
	}
	return list[i-1], nil
}

// Len returns the number of records.
func (t *StaticTable) Len() int {
	n := 0
	for _, list := range t.epochs {
		n += len(list)
	}
	return n
}
