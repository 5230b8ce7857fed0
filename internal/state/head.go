package state

import (
	"time"

	internalerrors "spotledger/internal/errors"
	"spotledger/internal/ledger"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Head is the committed state of a partition that the next cycle starts from.
type Head struct {
	Partition schema.PartitionKey       `json:"partition"`
	Cycles    int                       `json:"cycles"`
	LastHour  time.Time                 `json:"lastHour"`
	Ledger    ledger.Tip                `json:"ledger"`
	Lots      []OpenLot                 `json:"lots"`
	RiskState *schema.RiskState         `json:"riskState,omitempty"`
	Portfolio *schema.PortfolioSnapshot `json:"portfolio,omitempty"`
	Marks     map[string]schema.Mark    `json:"marks,omitempty"`
}

// NewHead returns the empty head of a partition.
func NewHead(partition schema.PartitionKey) *Head {
	return &Head{Partition: partition, Marks: make(map[string]schema.Mark)}
}

// Rebuild folds committed records, in hour order, into the partition head.
func Rebuild(partition schema.PartitionKey, records []*schema.CycleRecord) (*Head, error) {
	h := NewHead(partition)
	for _, rec := range records {
		if err := h.Apply(rec); err != nil {
			return nil, errors.Wrapf(err, "apply cycle %s", rec.Key())
		}
	}
	return h, nil
}

// Empty reports whether nothing has been committed to the partition.
func (h *Head) Empty() bool {
	return h.Cycles == 0
}

// Cash returns the ledger balance, or opening when the partition is empty.
func (h *Head) Cash(opening decimal.Decimal) decimal.Decimal {
	if h.Empty() {
		return opening
	}
	return h.Ledger.Balance
}

// LedgerTip returns the tip the next cycle appends to.
func (h *Head) LedgerTip(opening decimal.Decimal) ledger.Tip {
	if h.Empty() {
		return ledger.Tip{Balance: opening}
	}
	return h.Ledger
}

// Book returns a lot book over a copy of the open lots.
func (h *Head) Book() *LotBook {
	return NewLotBook(h.Lots)
}

// Apply advances the head by one committed record.
func (h *Head) Apply(rec *schema.CycleRecord) error {
	if rec.Partition() != h.Partition {
		return errors.Wrapf(exception.ErrInvalidArgument, "record partition %s does not match %s", rec.Partition(), h.Partition)
	}
	hour := rec.Run.OriginHour
	if !h.Empty() && !hour.After(h.LastHour) {
		return internalerrors.Violationf(exception.ErrAppendOnlyViolation, schema.TableRunContext, rec.Run.RunID,
			"hour %s does not follow committed hour %s", hour.UTC(), h.LastHour.UTC())
	}

	tip, err := ledger.Verify(h.LedgerTip(rec.Input.OpeningCash), rec.Ledger)
	if err != nil {
		return err
	}

	book := h.Book()
	for _, lot := range rec.Lots {
		book.Open(lot)
	}
	for _, tr := range rec.Trades {
		if err := book.ConsumeLot(tr.LotID, tr.Qty); err != nil {
			return err
		}
	}

	if h.Marks == nil {
		h.Marks = make(map[string]schema.Mark)
	}
	for _, m := range rec.Input.Marks {
		h.Marks[m.Asset] = m
	}

	rs := rec.RiskState
	pf := rec.Portfolio
	h.Cycles++
	h.LastHour = hour
	h.Ledger = tip
	h.Lots = book.Lots()
	h.RiskState = &rs
	h.Portfolio = &pf
	return nil
}
