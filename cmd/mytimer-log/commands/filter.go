package commands

import (
	"fmt"
	"time"

	"github.com/mytimer/mytimer-go/pkg/log"
)

// FilterOptions are the filter command's flags. Times are RFC 3339.
type FilterOptions struct {
	Output    string
	ConnID    string
	OwnerID   int
	Timer     string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

func (o FilterOptions) logFilter() (log.Filter, error) {
	filter := log.Filter{
		ConnectionID: o.ConnID,
		OwnerID:      o.OwnerID,
		Timer:        o.Timer,
	}

	var err error
	if filter.TimeStart, err = parseTimeFlag("time-start", o.TimeStart); err != nil {
		return filter, err
	}
	if filter.TimeEnd, err = parseTimeFlag("time-end", o.TimeEnd); err != nil {
		return filter, err
	}
	if o.Layer != "" {
		l, err := ParseLayerFlag(o.Layer)
		if err != nil {
			return filter, err
		}
		filter.Layer = &l
	}
	if o.Direction != "" {
		d, err := ParseDirectionFlag(o.Direction)
		if err != nil {
			return filter, err
		}
		filter.Direction = &d
	}
	if o.Category != "" {
		c, err := ParseCategoryFlag(o.Category)
		if err != nil {
			return filter, err
		}
		filter.Category = &c
	}
	return filter, nil
}

// RunFilter copies the events of path that match opts to opts.Output and
// returns how many were written.
func RunFilter(path string, opts FilterOptions) (int, error) {
	filter, err := opts.logFilter()
	if err != nil {
		return 0, err
	}
	out, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}

	n := 0
	err = eachEvent(path, filter, func(event log.Event) error {
		out.Log(event)
		n++
		return nil
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("-%s: %w", name, err)
	}
	return &t, nil
}
