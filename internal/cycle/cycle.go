// Package cycle runs one account-hour end to end: risk state, decisions, order
// lifecycle, ledger and snapshots. Execute is pure given its inputs, the partition
// head and the venue's fills, so replay re-runs it unchanged.
package cycle

import (
	"context"
	"strconv"

	"spotledger/internal/decision"
	"spotledger/internal/hashing"
	"spotledger/internal/ledger"
	"spotledger/internal/order"
	"spotledger/internal/risk"
	"spotledger/internal/schema"
	"spotledger/internal/state"
	"spotledger/pkg/exception"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// ExposureScale is the number of fraction digits cluster exposure percentages keep.
const ExposureScale int32 = 6

var (
	hundred    = decimal.NewFromInt(100)
	runIDSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("spotledger/run"))
)

// RunID derives a stable run id from the partition, hour and seed of an input.
func RunID(in *schema.CycleInput) string {
	name := in.AccountID + "|" + in.Mode.String() + "|" + hashing.CanonicalTime(schema.TruncateHour(in.OriginHour)) +
		"|" + strconv.FormatInt(in.Seed, 10) + "|" + in.CodeVersionHash
	return uuid.NewSHA1(runIDSpace, []byte(name)).String()
}

// Normalize fills derived input fields in place: the run id when empty and the hour floor.
func Normalize(in *schema.CycleInput) {
	in.OriginHour = schema.TruncateHour(in.OriginHour)
	if in.RunID == "" {
		in.RunID = RunID(in)
	}
}

// dataSnapshot is the part of the input the data snapshot hash covers. Venue fills are
// results of the cycle and are excluded.
type dataSnapshot struct {
	Outputs             []schema.ModelOutput `json:"outputs"`
	Marks               []schema.Mark        `json:"marks"`
	Faults              []schema.FaultSignal `json:"faults"`
	ManualReviewCleared bool                 `json:"manualReviewCleared"`
	KillSwitchReset     bool                 `json:"killSwitchReset"`
	OpeningCash         decimal.Decimal      `json:"openingCash"`
}

// Context builds the sealed run context of an input.
func Context(in *schema.CycleInput) (schema.RunContext, error) {
	configHash, err := hashing.JSON(in.Profile)
	if err != nil {
		return schema.RunContext{}, errors.Wrap(err, "hash profile")
	}
	dataHash, err := hashing.JSON(dataSnapshot{
		Outputs:             in.Outputs,
		Marks:               in.Marks,
		Faults:              in.Faults,
		ManualReviewCleared: in.ManualReviewCleared,
		KillSwitchReset:     in.KillSwitchReset,
		OpeningCash:         in.OpeningCash,
	})
	if err != nil {
		return schema.RunContext{}, errors.Wrap(err, "hash data snapshot")
	}

	run := schema.RunContext{
		RunID:            in.RunID,
		AccountID:        in.AccountID,
		Mode:             in.Mode,
		OriginHour:       in.OriginHour,
		Seed:             in.Seed,
		CodeVersionHash:  in.CodeVersionHash,
		ConfigHash:       configHash,
		DataSnapshotHash: dataHash,
	}
	run.RunSeedHash = hashing.RunSeed(run.SeedInput())
	run.RowHash = schema.ComputeHash(run)
	return run, nil
}

// Execute runs one cycle of in on top of head. The input is normalized and the fills
// the venue reported are recorded into the returned record's input.
func Execute(ctx context.Context, in schema.CycleInput, head *state.Head, venue order.Venue) (*schema.CycleRecord, error) {
	if head == nil || venue == nil {
		return nil, exception.ErrNilInstance
	}
	Normalize(&in)
	if in.Partition() != head.Partition {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "input partition %s does not match head %s", in.Partition(), head.Partition)
	}
	if in.Profile.AccountID != in.AccountID {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "profile account %s does not match %s", in.Profile.AccountID, in.AccountID)
	}
	if err := risk.ValidateProfile(in.Profile); err != nil {
		return nil, err
	}
	if cb, ok := venue.(order.CostBounded); ok {
		if fee, slip, known := cb.CostCeiling(); known {
			if err := risk.ValidateVenueCosts(in.Profile, fee, slip); err != nil {
				return nil, err
			}
		}
	}
	if !head.Empty() && !in.OriginHour.After(head.LastHour) {
		return nil, errors.Wrapf(exception.ErrAppendOnlyViolation, "hour %s does not follow committed hour %s",
			hashing.CanonicalTime(in.OriginHour), hashing.CanonicalTime(head.LastHour))
	}

	run, err := Context(&in)
	if err != nil {
		return nil, err
	}

	b := &builder{
		in:        in,
		head:      head,
		run:       run,
		ids:       schema.IDs{Seed: run.RunSeedHash},
		partition: in.Partition(),
		marks:     make(map[string]schema.Mark, len(in.Marks)),
	}
	for _, m := range in.Marks {
		b.marks[m.Asset] = m
	}
	return b.execute(ctx, venue)
}

type builder struct {
	in        schema.CycleInput
	head      *state.Head
	run       schema.RunContext
	ids       schema.IDs
	partition schema.PartitionKey
	marks     map[string]schema.Mark
	rec       schema.CycleRecord
}

func (b *builder) execute(ctx context.Context, venue order.Venue) (*schema.CycleRecord, error) {
	hour := b.in.OriginHour
	book := b.head.Book()
	tip := b.head.LedgerTip(b.in.OpeningCash)

	val := state.Value(book, tip.Balance, b.marks, b.head.Marks)
	peak := state.PeakOf(b.head.Portfolio, val.Total)

	faults := append([]schema.FaultSignal(nil), b.in.Faults...)
	if len(val.Stale) > 0 && !hasFault(faults, schema.FaultDataIntegrity) {
		faults = append(faults, schema.FaultDataIntegrity)
	}

	rs, transitions := risk.Evaluate(risk.Observation{
		AccountID:           b.in.AccountID,
		Mode:                b.in.Mode,
		Hour:                hour,
		Profile:             b.in.Profile,
		DrawdownPct:         risk.Drawdown(peak, val.Total),
		OpenPositions:       book.Count(),
		Prior:               b.head.RiskState,
		Faults:              faults,
		ManualReviewCleared: b.in.ManualReviewCleared,
		KillSwitchReset:     b.in.KillSwitchReset,
	})
	rs.StateID = b.ids.RiskState()
	if b.head.Portfolio != nil {
		rs.ParentHash = b.head.Portfolio.RowHash
	}
	rs.RowHash = schema.ComputeHash(rs)

	b.rec.Run = b.run
	b.rec.RiskState = rs
	for _, asset := range val.Stale {
		b.event(schema.RiskEventTransition, schema.ReasonMarkMissing, asset, "valued at "+val.Prices[asset].String())
	}
	for _, t := range transitions {
		b.event(schema.RiskEventTransition, t.Reason, "", t.Detail)
	}

	gates := risk.NewEngine(b.in.Profile, rs, risk.StateView{
		Cash:     tip.Balance,
		Value:    val.Total,
		Holdings: val.Holdings(book),
	})
	b.clusters(gates, val.Total)

	results := decision.NewEngine(b.in.Mode, b.in.Profile, gates).Decide(b.in.Outputs, b.marks, book.Held())

	capture := &capturingVenue{next: venue}
	chain := ledger.NewChain(b.partition, tip)
	lc := order.NewLifecycle(order.Config{
		IDs:   b.ids,
		Hour:  hour,
		Gates: gates,
		Book:  book,
		Chain: chain,
		Venue: capture,
	})

	for i, res := range results {
		sig := res.Signal
		sig.SignalID = b.ids.Signal(sig.Asset, i+1)
		sig.RiskStateHash = rs.RowHash
		sig.RowHash = schema.ComputeHash(sig)
		b.rec.Signals = append(b.rec.Signals, sig)
		if res.Logged {
			b.event(schema.RiskEventRejection, sig.Reason, sig.Asset, "signal "+sig.Action.String())
		}
		if !res.HasOrder() {
			continue
		}

		out, err := lc.Submit(ctx, order.Candidate{
			SignalID:    sig.SignalID,
			Asset:       sig.Asset,
			ClusterID:   sig.ClusterID,
			Side:        res.Side,
			Qty:         res.Qty,
			Price:       res.Price,
			RealizedVol: res.RealizedVol,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "submit %s %s", res.Side, sig.Asset)
		}
		b.rec.Orders = append(b.rec.Orders, out.Order)
		b.rec.Fills = append(b.rec.Fills, out.Fills...)
		b.rec.Lots = append(b.rec.Lots, out.Lots...)
		b.rec.Trades = append(b.rec.Trades, out.Trades...)
		b.rec.Ledger = append(b.rec.Ledger, out.Ledger...)
		if out.Rejected() {
			b.event(schema.RiskEventRejection, out.Order.Reason, sig.Asset, "order "+out.Order.Side.String())
		}
	}

	b.rec.Portfolio, b.rec.Positions = state.Materialize(state.MaterializeInput{
		IDs:       b.ids,
		Partition: b.partition,
		Hour:      hour,
		Book:      book,
		Tip:       chain.Tip(),
		Current:   b.marks,
		Last:      b.head.Marks,
		Prior:     b.head.Portfolio,
	})

	b.rec.Input = b.in
	b.rec.Input.Fills = capture.fills
	b.rec.Seal()
	return &b.rec, nil
}

func (b *builder) clusters(gates *risk.Engine, value decimal.Decimal) {
	limit := gates.ClusterLimit()
	capSpec := b.in.Profile.ClusterExposureCap
	for _, cv := range gates.ClusterExposure() {
		pct := decimal.Zero
		if value.IsPositive() {
			pct = cv.Value.Div(value).Mul(hundred).Round(ExposureScale)
		}
		c := schema.ClusterExposureState{
			ExposureID:    b.ids.Cluster(cv.Cluster),
			ClusterID:     cv.Cluster,
			ExposureValue: cv.Value.Round(ledger.CashScale),
			ExposurePct:   pct,
			CapMode:       capSpec.Mode,
			CapValue:      capSpec.Value,
			CapLimit:      limit,
			ParentHash:    b.rec.RiskState.RowHash,
		}
		c.RowHash = schema.ComputeHash(c)
		b.rec.Clusters = append(b.rec.Clusters, c)
	}
}

func (b *builder) event(kind schema.RiskEventKind, reason schema.RiskReason, asset, detail string) {
	e := schema.RiskEvent{
		EventID:       b.ids.Event(len(b.rec.Events) + 1),
		Kind:          kind,
		Reason:        reason,
		Asset:         asset,
		Detail:        detail,
		RiskStateHash: b.rec.RiskState.RowHash,
		At:            b.in.OriginHour,
	}
	e.RowHash = schema.ComputeHash(e)
	b.rec.Events = append(b.rec.Events, e)
}

func hasFault(faults []schema.FaultSignal, f schema.FaultSignal) bool {
	for _, x := range faults {
		if x == f {
			return true
		}
	}
	return false
}

// capturingVenue records every fill the wrapped venue reports.
type capturingVenue struct {
	next  order.Venue
	fills []schema.VenueFill
}

func (v *capturingVenue) Execute(ctx context.Context, req schema.OrderRequest) ([]schema.VenueFill, error) {
	fills, err := v.next.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	v.fills = append(v.fills, fills...)
	return fills, nil
}
