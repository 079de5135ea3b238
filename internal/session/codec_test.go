package session

import (
	"bufio"
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleMessage() Message {
	return Message{
		Type:         MsgNewOrderSingle,
		SeqNum:       42,
		SenderCompID: "EXEC",
		TargetCompID: "VENUE",
		SendingTime:  time.Date(2026, 10, 19, 9, 30, 0, 123_000_000, time.UTC),
		Body: []Field{
			{Tag: TagClOrdID, Value: "abc"},
			{Tag: TagSymbol, Value: "BTC-USD"},
			{Tag: TagSide, Value: "1"},
			{Tag: TagOrderQty, Value: "0.5"},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	m := sampleMessage()
	frame := Encode(nil, m)
	if !bytes.HasPrefix(frame, []byte("8=FIX.4.4\x019=")) {
		t.Fatalf("header mismatch: %q", frame)
	}
	if !bytes.Contains(frame, []byte("\x0135=D\x0149=EXEC\x0156=VENUE\x0134=42\x0152=20261019-09:30:00.123\x01")) {
		t.Fatalf("header order mismatch: %q", frame)
	}

	got, err := Decode(frame)
	require.NoError(t, err)
	require.Equal(t, m.Type, got.Type)
	require.Equal(t, m.SeqNum, got.SeqNum)
	require.Equal(t, m.SenderCompID, got.SenderCompID)
	require.Equal(t, m.TargetCompID, got.TargetCompID)
	require.True(t, m.SendingTime.Equal(got.SendingTime))
	require.Equal(t, m.Body, got.Body)
	require.False(t, got.PossDup)
}

func TestEncodePossDup(t *testing.T) {
	m := sampleMessage()
	m.PossDup = true
	m.OrigSending = m.SendingTime.Add(-time.Second)

	got, err := Decode(Encode(nil, m))
	require.NoError(t, err)
	require.True(t, got.PossDup)
	require.True(t, got.OrigSending.Equal(m.OrigSending))
}

func TestDecodeRejectsCorruption(t *testing.T) {
	frame := Encode(nil, sampleMessage())

	bad := bytes.Replace(frame, []byte("55=BTC-USD"), []byte("55=BTC-USE"), 1)
	if _, err := Decode(bad); !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("checksum: got %v want %v", err, ErrBadChecksum)
	}

	bad = bytes.Replace(frame, []byte("55=BTC-USD"), []byte("55=BTC-USDT"), 1)
	if _, err := Decode(bad); !errors.Is(err, ErrBadBodyLength) {
		t.Fatalf("body length: got %v want %v", err, ErrBadBodyLength)
	}

	if _, err := Decode([]byte("garbage")); !errors.Is(err, ErrGarbled) {
		t.Fatalf("garbled: got %v want %v", err, ErrGarbled)
	}
}

func TestReadFrameSplitsStream(t *testing.T) {
	first := sampleMessage()
	second := sampleMessage()
	second.SeqNum = 43
	second.Type = MsgHeartbeat
	second.Body = nil

	var stream []byte
	stream = Encode(stream, first)
	stream = Encode(stream, second)

	r := bufio.NewReader(bytes.NewReader(stream))
	for _, want := range []uint64{42, 43} {
		frame, err := ReadFrame(r)
		require.NoError(t, err)
		m, err := Decode(frame)
		require.NoError(t, err)
		if m.SeqNum != want {
			t.Fatalf("seq mismatch: got %d want %d", m.SeqNum, want)
		}
	}
	if _, err := ReadFrame(r); err == nil {
		t.Fatalf("expected EOF after last frame")
	}
}
