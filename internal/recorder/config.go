package recorder

import (
	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
)

const (
	defaultSegmentMaxBytes int64 = 64 << 20
	defaultBufferSize            = 256 * 1024
	defaultFilePrefix            = "cycles"
	defaultMaxPayloadSize        = 64 << 20
)

// Config controls journal writer behavior.
type Config struct {
	Dir             string
	SegmentMaxBytes int64
	BufferSize      int
	FilePrefix      string
}

// DefaultConfig returns a baseline configuration for the journal writer.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		SegmentMaxBytes: defaultSegmentMaxBytes,
		BufferSize:      defaultBufferSize,
		FilePrefix:      defaultFilePrefix,
	}
}

func (c Config) withDefaults() Config {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.Dir == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "invalid recorder config: Dir is empty")
	}
	if c.SegmentMaxBytes <= 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "invalid recorder config: SegmentMaxBytes must be > 0")
	}
	if c.BufferSize <= 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "invalid recorder config: BufferSize must be > 0")
	}
	if c.FilePrefix == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "invalid recorder config: FilePrefix is empty")
	}
	return nil
}
