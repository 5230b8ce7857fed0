package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// NullToken stands in for an absent value.
	NullToken = `\N`
	// DecimalScale is the number of fraction digits every decimal is normalized to.
	DecimalScale int32 = 10
	// TimeLayout renders timestamps as UTC ISO-8601 with microseconds.
	TimeLayout = "2006-01-02T15:04:05.000000Z"

	separator = "|"
)

var escaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

// Field is one canonical column of a preimage.
type Field struct {
	text string
}

// Text returns the canonical rendering.
func (f Field) Text() string {
	return f.text
}

func Null() Field {
	return Field{text: NullToken}
}

func String(v string) Field {
	return Field{text: escaper.Replace(v)}
}

// OptString maps the empty string to NULL.
func OptString(v string) Field {
	if v == "" {
		return Null()
	}
	return String(v)
}

func Int(v int64) Field {
	return Field{text: strconv.FormatInt(v, 10)}
}

func Uint(v uint64) Field {
	return Field{text: strconv.FormatUint(v, 10)}
}

func Bool(v bool) Field {
	if v {
		return Field{text: "t"}
	}
	return Field{text: "f"}
}

func Decimal(v decimal.Decimal) Field {
	return Field{text: CanonicalDecimal(v)}
}

func Time(v time.Time) Field {
	if v.IsZero() {
		return Null()
	}
	return Field{text: CanonicalTime(v)}
}

// CanonicalDecimal renders v at DecimalScale with negative zero folded to zero.
func CanonicalDecimal(v decimal.Decimal) string {
	s := v.StringFixed(DecimalScale)
	if strings.HasPrefix(s, "-") && strings.Trim(s[1:], "0.") == "" {
		return s[1:]
	}
	return s
}

// CanonicalTime renders v in UTC with microsecond precision.
func CanonicalTime(v time.Time) string {
	return v.UTC().Truncate(time.Microsecond).Format(TimeLayout)
}

// Preimage joins the fields in order.
func Preimage(fields ...Field) string {
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteString(separator)
		}
		b.WriteString(f.text)
	}
	return b.String()
}

// Sum returns the lowercase hex sha-256 digest of data.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Row hashes the canonical preimage of fields.
func Row(fields ...Field) string {
	return Sum([]byte(Preimage(fields...)))
}

// IsDigest reports whether s looks like a digest produced by Sum.
func IsDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
