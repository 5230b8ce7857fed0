package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/yanun0323/errors"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 40
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'S', 'L', 'J', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic            = errors.New("journal invalid magic")
	ErrUnsupportedRecordVer    = errors.New("journal unsupported record version")
	ErrInvalidRecordHeaderSize = errors.New("journal invalid header size")
)

// Kind is the type of a journal record.
type Kind uint16

const (
	KindUnknown Kind = iota
	// KindCycle carries one committed cycle record as JSON.
	KindCycle
)

// Header is the fixed metadata in front of every journal payload.
type Header struct {
	Kind          Kind
	SchemaVersion uint16
	Seq           uint64
	// Hour is the origin hour of the cycle in unix seconds.
	Hour int64
	// CommittedAt is the wall-clock commit time in unix nanoseconds.
	CommittedAt int64
}

func encodeHeader(dst []byte, header Header, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(header.Kind))
	binary.LittleEndian.PutUint16(dst[10:12], header.SchemaVersion)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[16:24], header.Seq)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(header.Hour))
	binary.LittleEndian.PutUint64(dst[32:40], uint64(header.CommittedAt))
}

func checksum(header []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeRecordHeader(src []byte) (Header, uint32, error) {
	if len(src) < recordHeaderSize {
		return Header{}, 0, ErrInvalidRecordHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return Header{}, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != recordVersion {
		return Header{}, 0, ErrUnsupportedRecordVer
	}
	if headerSize := binary.LittleEndian.Uint16(src[6:8]); headerSize != recordHeaderSize {
		return Header{}, 0, ErrInvalidRecordHeaderSize
	}
	h := Header{
		Kind:          Kind(binary.LittleEndian.Uint16(src[8:10])),
		SchemaVersion: binary.LittleEndian.Uint16(src[10:12]),
		Seq:           binary.LittleEndian.Uint64(src[16:24]),
		Hour:          int64(binary.LittleEndian.Uint64(src[24:32])),
		CommittedAt:   int64(binary.LittleEndian.Uint64(src[32:40])),
	}
	return h, binary.LittleEndian.Uint32(src[12:16]), nil
}
