package store

import (
	"encoding/json"

	"spotledger/internal/schema"

	"github.com/yanun0323/errors"
)

// Clone deep-copies a record through its persisted JSON form.
func Clone(rec *schema.CycleRecord) (*schema.CycleRecord, error) {
	raw, err := Encode(rec)
	if err != nil {
		return nil, err
	}
	return Decode(raw)
}

// Encode renders a record in its persisted form.
func Encode(rec *schema.CycleRecord) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "marshal cycle record")
	}
	return raw, nil
}

// Decode parses a record from its persisted form.
func Decode(raw []byte) (*schema.CycleRecord, error) {
	var rec schema.CycleRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal cycle record")
	}
	return &rec, nil
}
