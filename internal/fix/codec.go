package fix

import (
	"strconv"
	"time"

	"main/pkg/exception"
	"main/pkg/scanner"

	"github.com/yanun0323/errors"
)

// Sequencer allocates outbound sequence numbers. Implementations must persist
// the allocation before returning so a crash after Next can never reuse a
// sequence number on the wire.
type Sequencer interface {
	NextOutbound() (uint64, error)
}

// Codec frames and parses FIX messages for one session. Encode stamps the
// standard header, takes the next outbound sequence number from the session's
// sequencer, and appends the BodyLength/CheckSum framing.
type Codec struct {
	beginString  string
	senderCompID string
	targetCompID string
	seq          Sequencer
	now          func() time.Time
}

// NewCodec builds a codec bound to one session's identity and sequencer.
func NewCodec(beginString, senderCompID, targetCompID string, seq Sequencer) *Codec {
	return &Codec{
		beginString:  beginString,
		senderCompID: senderCompID,
		targetCompID: targetCompID,
		seq:          seq,
		now:          time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (c *Codec) SetClock(now func() time.Time) {
	c.now = now
}

// Encode frames a message, allocating and persisting the next outbound
// sequence number. Concurrent callers are serialized by the sequencer; no two
// encodes can share a sequence number.
func (c *Codec) Encode(msgType string, body Fields) ([]byte, uint64, error) {
	seqNum, err := c.seq.NextOutbound()
	if err != nil {
		return nil, 0, errors.Wrap(err, "allocate outbound seq")
	}
	return c.EncodeWithSeq(msgType, body, seqNum, false), seqNum, nil
}

// EncodeWithSeq frames a message with an explicit sequence number, without
// touching the sequencer. Used for gap fills, which replay an old slot.
func (c *Codec) EncodeWithSeq(msgType string, body Fields, seqNum uint64, possDup bool) []byte {
	sendingTime := c.now().UTC().Format(TimeFormat)

	buf := make([]byte, 0, 128+len(body)*16)
	buf = appendField(buf, TagMsgType, msgType)
	buf = appendUintField(buf, TagMsgSeqNum, seqNum)
	buf = appendField(buf, TagSenderCompID, c.senderCompID)
	buf = appendField(buf, TagTargetCompID, c.targetCompID)
	buf = appendField(buf, TagSendingTime, sendingTime)
	if possDup {
		buf = appendField(buf, TagPossDupFlag, "Y")
	}
	if !IsAdmin(msgType) {
		buf = appendField(buf, TagTransactTime, sendingTime)
	}
	for _, f := range body {
		buf = appendField(buf, f.Tag, f.Value)
	}

	framed := make([]byte, 0, len(buf)+32)
	framed = appendField(framed, TagBeginString, c.beginString)
	framed = appendUintField(framed, TagBodyLength, uint64(len(buf)))
	framed = append(framed, buf...)

	var sum uint32
	for _, b := range framed {
		sum += uint32(b)
	}
	checksum := strconv.Itoa(int(sum % 256))
	for len(checksum) < 3 {
		checksum = "0" + checksum
	}
	framed = appendField(framed, TagCheckSum, checksum)
	return framed
}

func appendField(dst []byte, tag int, value string) []byte {
	dst = scanner.AppendUint(dst, uint64(tag))
	dst = append(dst, '=')
	dst = append(dst, value...)
	return append(dst, SOH)
}

func appendUintField(dst []byte, tag int, value uint64) []byte {
	dst = scanner.AppendUint(dst, uint64(tag))
	dst = append(dst, '=')
	dst = scanner.AppendUint(dst, value)
	return append(dst, SOH)
}

var sohChecksumPrefix = []byte{SOH, '1', '0', '='}

// Decode parses a complete framed message. Checksum mismatch and missing
// mandatory header fields are both non-fatal to the session: the caller logs
// and drops the single message, keeping the raw bytes for diagnostics.
func Decode(raw []byte) (*Message, error) {
	fields := make(map[int]string, 16)
	for pos := 0; pos < len(raw); {
		eq := scanner.IndexByteFrom(raw, '=', pos)
		if eq < 0 {
			break
		}
		tag, ok := scanner.ParseUint(raw[pos:eq])
		if !ok {
			return nil, errors.Wrap(exception.ErrMalformedMessage, "bad tag").With("raw", string(raw))
		}
		end := scanner.IndexByteFrom(raw, SOH, eq+1)
		if end < 0 {
			end = len(raw)
		}
		fields[int(tag)] = string(raw[eq+1 : end])
		pos = end + 1
	}

	for _, tag := range [...]int{TagBeginString, TagBodyLength, TagMsgType, TagMsgSeqNum, TagCheckSum} {
		if _, ok := fields[tag]; !ok {
			return nil, errors.Wrap(exception.ErrMalformedMessage, "missing tag "+itoa(tag)).With("raw", string(raw))
		}
	}

	cksPos := scanner.IndexOf(raw, sohChecksumPrefix)
	if cksPos < 0 {
		return nil, errors.Wrap(exception.ErrMalformedMessage, "missing checksum trailer").With("raw", string(raw))
	}
	var sum uint32
	for _, b := range raw[:cksPos+1] {
		sum += uint32(b)
	}
	want, ok := scanner.ParseUint([]byte(fields[TagCheckSum]))
	if !ok || uint64(sum%256) != want {
		return nil, errors.Wrap(exception.ErrChecksumMismatch, "computed "+itoa(int(sum%256))).With("raw", string(raw))
	}

	seqNum, ok := scanner.ParseUint([]byte(fields[TagMsgSeqNum]))
	if !ok {
		return nil, errors.Wrap(exception.ErrMalformedMessage, "bad seq num").With("raw", string(raw))
	}

	return &Message{
		Raw:    raw,
		Type:   fields[TagMsgType],
		SeqNum: seqNum,
		fields: fields,
	}, nil
}

var beginStringPrefix = []byte("8=")

// ExtractFrame pulls the first complete FIX message out of buf. A nil frame
// means more bytes are needed; rest always holds the unconsumed remainder.
// Garbage before the next BeginString is skipped.
func ExtractFrame(buf []byte) (frame, rest []byte) {
	start := scanner.IndexOf(buf, beginStringPrefix)
	if start < 0 {
		// Keep the tail: a BeginString may be split across reads.
		if n := len(buf); n > 1 {
			return nil, buf[n-1:]
		}
		return nil, buf
	}
	buf = buf[start:]

	lenPos := scanner.IndexOf(buf, []byte{SOH, '9', '='})
	if lenPos < 0 {
		return nil, buf
	}
	lenEnd := scanner.IndexByteFrom(buf, SOH, lenPos+3)
	if lenEnd < 0 {
		return nil, buf
	}
	bodyLen, ok := scanner.ParseUint(buf[lenPos+3 : lenEnd])
	if !ok {
		// Unparseable length: drop through to the next BeginString.
		next := scanner.IndexOf(buf[2:], beginStringPrefix)
		if next < 0 {
			return nil, nil
		}
		return ExtractFrame(buf[next+2:])
	}

	// body starts after the BodyLength SOH; trailer is "10=XXX" + SOH.
	end := lenEnd + 1 + int(bodyLen) + 7
	if end > len(buf) {
		return nil, buf
	}
	return buf[:end], buf[end:]
}
