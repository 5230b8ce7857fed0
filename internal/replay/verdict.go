package replay

import (
	"fmt"
	"strings"

	internalerrors "spotledger/internal/errors"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"
)

// Manifest-level mismatches are reported under this table name.
const tableManifest = "replay_manifest"

// Mismatch is one difference between what was committed and what replay recomputed.
type Mismatch struct {
	Run      string `json:"run,omitempty"`
	Table    string `json:"table"`
	RowID    string `json:"rowId"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s %s/%s expected=%q actual=%q", m.Run, m.Table, m.RowID, m.Expected, m.Actual)
}

// Verdict is the outcome of a replay check. Mismatches are reported, never reconciled.
type Verdict struct {
	Pass       bool       `json:"pass"`
	Hours      int        `json:"hours"`
	Root       string     `json:"root,omitempty"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

func (v *Verdict) add(run, table, rowID, expected, actual string) {
	v.Mismatches = append(v.Mismatches, Mismatch{Run: run, Table: table, RowID: rowID, Expected: expected, Actual: actual})
	v.Pass = false
}

// fail reports err against rec, on the row the error names when it is a Violation.
func (v *Verdict) fail(rec *schema.CycleRecord, expected string, err error) {
	table, row := schema.TableRunContext, rec.Run.RunID
	if vio, ok := internalerrors.AsViolation(err); ok && vio.Table != "" {
		table, row = vio.Table, vio.RowID
	}
	v.add(rec.Key().String(), table, row, expected, err.Error())
}

func (v *Verdict) merge(o Verdict) {
	v.Hours += o.Hours
	v.Mismatches = append(v.Mismatches, o.Mismatches...)
	v.Pass = v.Pass && o.Pass
}

// Err returns a ReplayParityMismatch bound to the first mismatch, or nil on pass.
func (v Verdict) Err() error {
	if v.Pass {
		return nil
	}
	if len(v.Mismatches) == 0 {
		return exception.ErrReplayParityMismatch
	}
	first := v.Mismatches[0]
	return internalerrors.Violationf(exception.ErrReplayParityMismatch, first.Table, first.RowID,
		"%d mismatches, first expected %q actual %q", len(v.Mismatches), first.Expected, first.Actual)
}

func (v Verdict) String() string {
	if v.Pass {
		return fmt.Sprintf("PASS hours=%d root=%s", v.Hours, v.Root)
	}
	lines := make([]string, 0, len(v.Mismatches)+1)
	lines = append(lines, fmt.Sprintf("FAIL hours=%d mismatches=%d", v.Hours, len(v.Mismatches)))
	for _, m := range v.Mismatches {
		lines = append(lines, "  "+m.String())
	}
	return strings.Join(lines, "\n")
}
