// Package feed supplies the model outputs, marks and fault signals of an account-hour.
package feed

import (
	"context"
	"time"

	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
)

// Source returns the external inputs of one partition hour: outputs, marks, faults and
// operator flags. Account, profile, cash and seed are filled in by the caller.
type Source interface {
	Input(ctx context.Context, p schema.PartitionKey, hour time.Time) (*schema.CycleInput, error)
}

// HourName is the file stem of an hour's input file.
func HourName(hour time.Time) string {
	return schema.TruncateHour(hour).UTC().Format("2006010215")
}

// Router sends each partition to its own source, or to Default when none is registered.
type Router struct {
	Default Source
	routes  map[schema.PartitionKey]Source
}

// Route registers src for p.
func (r *Router) Route(p schema.PartitionKey, src Source) {
	if r.routes == nil {
		r.routes = make(map[schema.PartitionKey]Source)
	}
	r.routes[p] = src
}

func (r *Router) Input(ctx context.Context, p schema.PartitionKey, hour time.Time) (*schema.CycleInput, error) {
	if src, ok := r.routes[p]; ok {
		return src.Input(ctx, p, hour)
	}
	if r.Default == nil {
		return nil, errors.Wrapf(exception.ErrNotFound, "no source for partition %s", p)
	}
	return r.Default.Input(ctx, p, hour)
}
