package recorder

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"spotledger/internal/schema"

	"github.com/yanun0323/errors"
)

var (
	ErrClosed          = errors.New("journal writer closed")
	ErrPayloadTooLarge = errors.New("journal payload too large")
)

const maxPayloadLen = uint64(^uint32(0))

// Writer appends records to journal segments. Every Append is flushed and
// fsynced before it returns, so an acknowledged record survives a crash.
type Writer struct {
	cfg Config

	mu        sync.Mutex
	seg       *segmentWriter
	segID     uint64
	seq       uint64
	closed    bool
	headerBuf []byte
	now       func() time.Time
}

// NewWriter creates a journal writer, ensures the target directory exists and
// truncates a torn record left at the end of the newest segment.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir").With("dir", cfg.Dir)
	}
	recovered, err := Repair(cfg.Dir, cfg.FilePrefix)
	if err != nil {
		return nil, err
	}
	return &Writer{
		cfg:       cfg,
		segID:     uint64(recovered.Segments),
		seq:       recovered.LastSeq,
		headerBuf: make([]byte, recordHeaderSize),
		now:       time.Now,
	}, nil
}

// Seq returns the sequence number of the last durable record.
func (w *Writer) Seq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Append writes one record and syncs it to disk. The assigned header is returned.
func (w *Writer) Append(header Header, payload []byte) (Header, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return header, ErrClosed
	}
	if uint64(len(payload)) > maxPayloadLen {
		return header, ErrPayloadTooLarge
	}
	if header.SchemaVersion == 0 {
		header.SchemaVersion = schema.SchemaVersion
	}
	now := w.now().UTC()
	if header.CommittedAt == 0 {
		header.CommittedAt = now.UnixNano()
	}
	header.Seq = w.seq + 1

	recordSize := int64(recordHeaderSize + len(payload) + recordChecksumSize)
	if w.shouldRotate(recordSize) {
		if err := w.closeSegment(); err != nil {
			return header, err
		}
		if err := w.openSegment(now); err != nil {
			return header, err
		}
	}

	var checksumBuf [recordChecksumSize]byte
	encodeHeader(w.headerBuf, header, len(payload))
	binary.LittleEndian.PutUint32(checksumBuf[:], checksum(w.headerBuf, payload))

	if _, err := w.seg.buf.Write(w.headerBuf); err != nil {
		return header, err
	}
	if len(payload) > 0 {
		if _, err := w.seg.buf.Write(payload); err != nil {
			return header, err
		}
	}
	if _, err := w.seg.buf.Write(checksumBuf[:]); err != nil {
		return header, err
	}
	if err := w.seg.buf.Flush(); err != nil {
		return header, err
	}
	if err := w.seg.file.Sync(); err != nil {
		return header, err
	}

	w.seg.size += recordSize
	w.seq = header.Seq
	return header, nil
}

// Close syncs and closes the open segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.closeSegment()
}

func (w *Writer) shouldRotate(nextSize int64) bool {
	if w.seg == nil {
		return true
	}
	return w.cfg.SegmentMaxBytes > 0 && w.seg.size > 0 && w.seg.size+nextSize > w.cfg.SegmentMaxBytes
}

func (w *Writer) closeSegment() error {
	seg := w.seg
	w.seg = nil
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		_ = seg.file.Close()
		return err
	}
	if err := seg.file.Sync(); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (w *Writer) openSegment(now time.Time) error {
	ts := now.Format("20060102-150405")
	for {
		w.segID++
		name := segmentName(w.cfg.FilePrefix, ts, w.segID)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				continue
			}
			return err
		}
		w.seg = &segmentWriter{
			file: file,
			buf:  bufio.NewWriterSize(file, w.cfg.BufferSize),
		}
		return nil
	}
}

// segmentName orders by segment id first so lexical order is append order.
func segmentName(prefix, ts string, id uint64) string {
	return fmt.Sprintf("%s-%08d-%s.wal", prefix, id, ts)
}

type segmentWriter struct {
	file *os.File
	buf  *bufio.Writer
	size int64
}
