package session

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"time"

	"github.com/yanun0323/errors"
)

const (
	soh = '\x01'

	// MaxBodyLength bounds a single frame.
	MaxBodyLength = 1 << 20
)

var (
	ErrGarbled       = errors.New("session: garbled message")
	ErrBadChecksum   = errors.New("session: checksum mismatch")
	ErrBadBodyLength = errors.New("session: body length mismatch")
)

// Encode serializes m. The header order is 8, 9, 35, 49, 56, 34, 52, then 43/122
// for possible duplicates, then the body, then the 10 trailer.
func Encode(dst []byte, m Message) []byte {
	var body []byte
	body = appendField(body, TagMsgType, m.Type)
	body = appendField(body, TagSenderCompID, m.SenderCompID)
	body = appendField(body, TagTargetCompID, m.TargetCompID)
	body = appendField(body, TagMsgSeqNum, strconv.FormatUint(m.SeqNum, 10))
	body = appendField(body, TagSendingTime, m.SendingTime.UTC().Format(sendingTimeLayout))
	if m.PossDup {
		body = appendField(body, TagPossDupFlag, "Y")
		if !m.OrigSending.IsZero() {
			body = appendField(body, TagOrigSendingTime, m.OrigSending.UTC().Format(sendingTimeLayout))
		}
	}
	for _, f := range m.Body {
		body = appendField(body, f.Tag, f.Value)
	}

	start := len(dst)
	dst = appendField(dst, TagBeginString, BeginString)
	dst = appendField(dst, TagBodyLength, strconv.Itoa(len(body)))
	dst = append(dst, body...)
	sum := checksum(dst[start:])
	dst = append(dst, "10="...)
	dst = append(dst, '0'+sum/100, '0'+sum/10%10, '0'+sum%10, soh)
	return dst
}

func appendField(dst []byte, tag int, value string) []byte {
	dst = strconv.AppendInt(dst, int64(tag), 10)
	dst = append(dst, '=')
	dst = append(dst, value...)
	return append(dst, soh)
}

func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

// Decode parses a complete frame and validates body length and checksum.
func Decode(frame []byte) (Message, error) {
	var m Message
	fields, err := splitFields(frame)
	if err != nil {
		return m, err
	}
	if len(fields) < 4 || fields[0].Tag != TagBeginString || fields[1].Tag != TagBodyLength || fields[len(fields)-1].Tag != TagCheckSum {
		return m, errors.Wrap(ErrGarbled, "decode: missing 8/9/10")
	}
	if fields[0].Value != BeginString {
		return m, errors.Wrapf(ErrGarbled, "decode: begin string %q", fields[0].Value)
	}

	bodyLen, err := strconv.Atoi(fields[1].Value)
	if err != nil {
		return m, errors.Wrap(ErrGarbled, "decode: body length")
	}
	bodyStart := bytes.IndexByte(frame, soh) + 1
	bodyStart += bytes.IndexByte(frame[bodyStart:], soh) + 1
	trailer := bytes.LastIndex(frame, []byte{soh, '1', '0', '='})
	if trailer < 0 {
		return m, errors.Wrap(ErrGarbled, "decode: trailer")
	}
	if got := trailer + 1 - bodyStart; got != bodyLen {
		return m, errors.Wrapf(ErrBadBodyLength, "declared: %d, actual: %d", bodyLen, got)
	}
	want, err := strconv.Atoi(fields[len(fields)-1].Value)
	if err != nil {
		return m, errors.Wrap(ErrGarbled, "decode: checksum")
	}
	if got := checksum(frame[:trailer+1]); int(got) != want {
		return m, errors.Wrapf(ErrBadChecksum, "declared: %d, actual: %d", want, got)
	}

	for _, f := range fields[2 : len(fields)-1] {
		switch f.Tag {
		case TagMsgType:
			m.Type = f.Value
		case TagSenderCompID:
			m.SenderCompID = f.Value
		case TagTargetCompID:
			m.TargetCompID = f.Value
		case TagMsgSeqNum:
			n, err := strconv.ParseUint(f.Value, 10, 64)
			if err != nil {
				return m, errors.Wrapf(ErrGarbled, "decode: seq num %q", f.Value)
			}
			m.SeqNum = n
		case TagSendingTime:
			m.SendingTime, _ = time.Parse(sendingTimeLayout, f.Value)
		case TagPossDupFlag:
			m.PossDup = f.Value == "Y"
		case TagOrigSendingTime:
			m.OrigSending, _ = time.Parse(sendingTimeLayout, f.Value)
		default:
			m.Body = append(m.Body, f)
		}
	}
	if m.Type == "" {
		return m, errors.Wrap(ErrGarbled, "decode: missing msg type")
	}
	return m, nil
}

func splitFields(frame []byte) ([]Field, error) {
	if len(frame) == 0 || frame[len(frame)-1] != soh {
		return nil, errors.Wrap(ErrGarbled, "decode: frame must end with SOH")
	}
	fields := make([]Field, 0, 16)
	for len(frame) > 0 {
		end := bytes.IndexByte(frame, soh)
		eq := bytes.IndexByte(frame[:end], '=')
		if eq <= 0 {
			return nil, errors.Wrapf(ErrGarbled, "decode: field %q", frame[:end])
		}
		tag, err := strconv.Atoi(string(frame[:eq]))
		if err != nil {
			return nil, errors.Wrapf(ErrGarbled, "decode: tag %q", frame[:eq])
		}
		fields = append(fields, Field{Tag: tag, Value: string(frame[eq+1 : end])})
		frame = frame[end+1:]
	}
	return fields, nil
}

// ReadFrame reads one frame from a byte stream using the declared body length.
func ReadFrame(r *bufio.Reader) ([]byte, error) {
	begin, err := r.ReadBytes(soh)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(begin, []byte("8=")) {
		return nil, errors.Wrapf(ErrGarbled, "frame: begin %q", begin)
	}
	length, err := r.ReadBytes(soh)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(length, []byte("9=")) {
		return nil, errors.Wrapf(ErrGarbled, "frame: length %q", length)
	}
	n, err := strconv.Atoi(string(length[2 : len(length)-1]))
	if err != nil || n < 0 || n > MaxBodyLength {
		return nil, errors.Wrapf(ErrGarbled, "frame: body length %q", length)
	}

	frame := make([]byte, 0, len(begin)+len(length)+n+7)
	frame = append(frame, begin...)
	frame = append(frame, length...)
	frame = frame[:len(frame)+n+7]
	if _, err := io.ReadFull(r, frame[len(begin)+len(length):]); err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(frame[len(frame)-7:], []byte("10=")) || frame[len(frame)-1] != soh {
		return nil, errors.Wrap(ErrGarbled, "frame: trailer")
	}
	return frame, nil
}
