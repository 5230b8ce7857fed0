package order

import (
	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// transitions is the explicit order transition table.
var transitions = map[schema.OrderStatus][]schema.OrderStatus{
	schema.OrderStatusNew:     {schema.OrderStatusAck, schema.OrderStatusRejected},
	schema.OrderStatusAck:     {schema.OrderStatusPartial, schema.OrderStatusFilled, schema.OrderStatusCancelled, schema.OrderStatusRejected},
	schema.OrderStatusPartial: {schema.OrderStatusPartial, schema.OrderStatusFilled},
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to schema.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func isTerminal(status schema.OrderStatus) bool {
	switch status {
	case schema.OrderStatusFilled, schema.OrderStatusCancelled, schema.OrderStatusRejected:
		return true
	default:
		return false
	}
}

// Resolve derives the terminal status from the summed fill quantity.
func Resolve(requested, filled decimal.Decimal) schema.OrderStatus {
	switch {
	case filled.IsZero():
		return schema.OrderStatusCancelled
	case filled.Equal(requested):
		return schema.OrderStatusFilled
	default:
		return schema.OrderStatusPartial
	}
}

// StateMachine tracks the orders of one cycle.
type StateMachine struct {
	orders map[string]*schema.OrderRequest
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{orders: make(map[string]*schema.OrderRequest)}
}

// Order returns the current order.
func (m *StateMachine) Order(id string) (*schema.OrderRequest, bool) {
	o, ok := m.orders[id]
	return o, ok
}

// ApplyRequest registers a new order in NEW state.
func (m *StateMachine) ApplyRequest(req schema.OrderRequest) (*schema.OrderRequest, error) {
	if req.OrderID == "" {
		return nil, exception.ErrOrderUnknown
	}
	if _, ok := m.orders[req.OrderID]; ok {
		return nil, errors.Wrapf(exception.ErrOrderDuplicate, "order %s", req.OrderID)
	}
	if !req.RequestedQty.IsPositive() {
		return nil, errors.Wrapf(exception.ErrOrderInvalidFill, "requested qty %s", req.RequestedQty)
	}
	o := req
	o.Status = schema.OrderStatusNew
	o.FilledQty = decimal.Zero
	m.orders[o.OrderID] = &o
	return &o, nil
}

func (m *StateMachine) move(id string, to schema.OrderStatus) (*schema.OrderRequest, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.Wrapf(exception.ErrOrderUnknown, "order %s", id)
	}
	if !CanTransition(o.Status, to) {
		return o, errors.Wrapf(exception.ErrOrderInvalidTransition, "order %s %s -> %s", id, o.Status, to)
	}
	o.Status = to
	return o, nil
}

// Ack moves an admitted order to ACK.
func (m *StateMachine) Ack(id string) (*schema.OrderRequest, error) {
	return m.move(id, schema.OrderStatusAck)
}

// Reject moves an order to REJECTED with a reason.
func (m *StateMachine) Reject(id string, reason schema.RiskReason) (*schema.OrderRequest, error) {
	o, err := m.move(id, schema.OrderStatusRejected)
	if err != nil {
		return o, err
	}
	o.Reason = reason
	return o, nil
}

// ApplyFill adds a fill quantity. Over-fills are refused.
func (m *StateMachine) ApplyFill(id string, qty decimal.Decimal) (*schema.OrderRequest, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.Wrapf(exception.ErrOrderUnknown, "order %s", id)
	}
	if isTerminal(o.Status) {
		return o, errors.Wrapf(exception.ErrOrderInvalidTransition, "order %s is %s", id, o.Status)
	}
	if !qty.IsPositive() {
		return o, errors.Wrapf(exception.ErrOrderInvalidFill, "order %s fill qty %s", id, qty)
	}
	filled := o.FilledQty.Add(qty)
	if filled.GreaterThan(o.RequestedQty) {
		return o, errors.Wrapf(exception.ErrOrderOverfill, "order %s filled %s of %s", id, filled, o.RequestedQty)
	}

	next := schema.OrderStatusPartial
	if filled.Equal(o.RequestedQty) {
		next = schema.OrderStatusFilled
	}
	if _, err := m.move(id, next); err != nil {
		return o, err
	}
	o.FilledQty = filled
	return o, nil
}

// Close ends the cycle for an order: an ACK order with no fills is CANCELLED,
// every other status is kept.
func (m *StateMachine) Close(id string) (*schema.OrderRequest, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, errors.Wrapf(exception.ErrOrderUnknown, "order %s", id)
	}
	if o.Status == schema.OrderStatusAck {
		return m.move(id, schema.OrderStatusCancelled)
	}
	return o, nil
}
