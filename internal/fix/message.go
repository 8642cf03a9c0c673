package fix

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Field is a single tag=value pair.
type Field struct {
	Tag   int
	Value string
}

// Fields is an ordered list of body fields for encoding. Order is preserved
// on the wire.
type Fields []Field

// Add appends a tag=value pair.
func (f Fields) Add(tag int, value string) Fields {
	return append(f, Field{Tag: tag, Value: value})
}

// AddIfSet appends a tag=value pair only when value is non-empty.
func (f Fields) AddIfSet(tag int, value string) Fields {
	if value == "" {
		return f
	}
	return append(f, Field{Tag: tag, Value: value})
}

// Message is a decoded FIX message: the parsed tag=value mapping plus the raw
// bytes it was framed from. Messages are ephemeral; consumers read what they
// need and drop them.
type Message struct {
	Raw    []byte
	Type   string
	SeqNum uint64

	fields map[int]string
}

// Get returns the value for a tag.
func (m *Message) Get(tag int) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.fields[tag]
	return v, ok
}

// String returns the tag value, or empty when absent.
func (m *Message) String(tag int) string {
	v, _ := m.Get(tag)
	return v
}

// Uint returns the tag value parsed as an unsigned integer.
func (m *Message) Uint(tag int) (uint64, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return 0, false
	}
	var n uint64
	for i := 0; i < len(v); i++ {
		b := v[i]
		if b < '0' || b > '9' {
			return 0, false
		}
		n = n*10 + uint64(b-'0')
	}
	return n, true
}

// Decimal returns the tag value parsed as a decimal.
func (m *Message) Decimal(tag int) (decimal.Decimal, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// Has reports whether the tag is present.
func (m *Message) Has(tag int) bool {
	_, ok := m.Get(tag)
	return ok
}

// PossDup reports whether the message carries PossDupFlag=Y.
func (m *Message) PossDup() bool {
	return m.String(TagPossDupFlag) == "Y"
}

// Pretty renders the message as pipe-delimited tag=value pairs for logging.
func (m *Message) Pretty() string {
	if m == nil || len(m.fields) == 0 {
		return ""
	}
	tags := make([]int, 0, len(m.fields))
	for tag := range m.fields {
		tags = append(tags, tag)
	}
	sort.Ints(tags)

	var sb strings.Builder
	for i, tag := range tags {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(itoa(tag))
		sb.WriteByte('=')
		sb.WriteString(m.fields[tag])
	}
	return sb.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var tmp [11]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
	}
	return string(tmp[i:])
}
