package venue

import (
	"context"

	"spotledger/internal/order"
	"spotledger/internal/schema"
)

var _ order.Venue = (*Recorded)(nil)

// Recorded returns the fills captured when a cycle first ran. Replay executes through it.
type Recorded struct {
	byOrder map[string][]schema.VenueFill
}

// NewRecorded indexes recorded fills by order id, keeping their order.
func NewRecorded(fills []schema.VenueFill) *Recorded {
	r := &Recorded{byOrder: make(map[string][]schema.VenueFill)}
	for _, f := range fills {
		r.byOrder[f.OrderID] = append(r.byOrder[f.OrderID], f)
	}
	return r
}

func (r *Recorded) Execute(_ context.Context, req schema.OrderRequest) ([]schema.VenueFill, error) {
	fills := r.byOrder[req.OrderID]
	out := make([]schema.VenueFill, len(fills))
	copy(out, fills)
	return out, nil
}
