package recorder

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"spotledger/pkg/exception"

	"github.com/yanun0323/errors"
)

// PlaybackConfig controls journal playback behavior.
type PlaybackConfig struct {
	Dir             string
	FilePrefix      string
	DisableChecksum bool
	MaxPayloadSize  int
	// TolerateTornTail stops quietly at a partial record at the end of the newest segment.
	TolerateTornTail bool
}

// Playback replays journal records in append order.
type Playback struct {
	cfg PlaybackConfig
}

// NewPlayback validates the config and creates a playback engine.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg}, nil
}

// Run replays journal records and calls the handler for each one.
func (p *Playback) Run(ctx context.Context, handler func(Header, []byte) error) error {
	if handler == nil {
		return errors.Wrap(exception.ErrNilInstance, "playback handler is nil")
	}
	files, err := collectFiles(p.cfg.Dir, p.cfg.FilePrefix)
	if err != nil {
		return err
	}

	for i, path := range files {
		last := i == len(files)-1
		if _, err := p.playFile(ctx, path, last, handler); err != nil {
			return err
		}
	}
	return nil
}

func (c PlaybackConfig) withDefaults() PlaybackConfig {
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = defaultMaxPayloadSize
	}
	return c
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	if c.Dir == "" {
		return errors.Wrap(exception.ErrInvalidArgument, "invalid playback config: Dir is empty")
	}
	if c.MaxPayloadSize < 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "invalid playback config: MaxPayloadSize must be >= 0")
	}
	return nil
}

func collectFiles(dir, filePrefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	prefix := filePrefix + "-"
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".wal") {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}
	sort.Strings(files)
	return files, nil
}

// playFile returns the byte offset just past the last complete record.
func (p *Playback) playFile(ctx context.Context, path string, last bool, handler func(Header, []byte) error) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := NewReader(file, ReaderOptions{
		DisableChecksum: p.cfg.DisableChecksum,
		MaxPayloadSize:  p.cfg.MaxPayloadSize,
	})

	var offset int64
	for {
		select {
		case <-ctx.Done():
			return offset, ctx.Err()
		default:
		}

		header, payload, err := reader.Next()
		if err != nil {
			if err == io.EOF {
				return offset, nil
			}
			if err == io.ErrUnexpectedEOF && last && p.cfg.TolerateTornTail {
				return offset, nil
			}
			return offset, errors.Wrap(err, "read journal").With("path", path).With("offset", offset)
		}

		if err := handler(header, payload); err != nil {
			return offset, err
		}
		offset += int64(recordHeaderSize + len(payload) + recordChecksumSize)
	}
}

// Recovered summarizes the journal state found by Repair.
type Recovered struct {
	Segments  int
	Records   int
	LastSeq   uint64
	Truncated int64
}

// Repair scans every segment and truncates a torn record at the end of the newest one.
// A torn or corrupt record anywhere else is an error.
func Repair(dir, filePrefix string) (Recovered, error) {
	if filePrefix == "" {
		filePrefix = defaultFilePrefix
	}
	files, err := collectFiles(dir, filePrefix)
	if err != nil {
		return Recovered{}, err
	}

	p := &Playback{cfg: PlaybackConfig{Dir: dir, FilePrefix: filePrefix, MaxPayloadSize: defaultMaxPayloadSize, TolerateTornTail: true}}
	rec := Recovered{Segments: len(files)}
	for i, path := range files {
		last := i == len(files)-1
		good, err := p.playFile(context.Background(), path, last, func(h Header, _ []byte) error {
			if h.Seq <= rec.LastSeq {
				return errors.Errorf("journal sequence regressed: %d after %d", h.Seq, rec.LastSeq)
			}
			rec.LastSeq = h.Seq
			rec.Records++
			return nil
		})
		if err != nil {
			return rec, err
		}
		if !last {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return rec, err
		}
		if info.Size() > good {
			if err := os.Truncate(path, good); err != nil {
				return rec, errors.Wrap(err, "truncate torn journal tail").With("path", path)
			}
			rec.Truncated = info.Size() - good
		}
	}
	return rec, nil
}
