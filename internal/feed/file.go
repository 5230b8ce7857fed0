package feed

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"spotledger/internal/ops"
	"spotledger/internal/schema"
	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
)

var extensions = []string{".json", ".yaml", ".yml"}

// FileSource reads one cycle input file per hour from Dir, named by HourName.
type FileSource struct {
	Dir string
}

// NewFileSource returns a source reading from dir.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

func (s *FileSource) Input(_ context.Context, p schema.PartitionKey, hour time.Time) (*schema.CycleInput, error) {
	stem := filepath.Join(s.Dir, HourName(hour))
	for _, ext := range extensions {
		path := stem + ext
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return ReadInput(path, p, hour)
	}
	return nil, errors.Wrapf(exception.ErrNotFound, "no input file for %s at %s", p, stem)
}

// ReadInput decodes a cycle input file. Partition and hour fields left empty in the file
// are taken from p and hour; fields that are set must agree with them.
func ReadInput(path string, p schema.PartitionKey, hour time.Time) (*schema.CycleInput, error) {
	var in schema.CycleInput
	if err := ops.Decode(path, &in); err != nil {
		return nil, err
	}
	hour = schema.TruncateHour(hour)
	if in.AccountID == "" {
		in.AccountID = p.AccountID
	}
	if in.Mode == schema.RunModeUnknown {
		in.Mode = p.Mode
	}
	if in.OriginHour.IsZero() {
		in.OriginHour = hour
	}
	if in.Partition() != p {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "input %s is for partition %s, want %s", path, in.Partition(), p)
	}
	if !schema.TruncateHour(in.OriginHour).Equal(hour) {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "input %s is for hour %s, want %s", path, in.OriginHour.UTC(), hour)
	}
	return &in, nil
}
