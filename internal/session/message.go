package session

import (
	"strconv"
	"time"
)

// BeginString is the protocol version carried in tag 8.
const BeginString = "FIX.4.4"

// Standard tags used by the session layer and NewOrderSingle.
const (
	TagBeginSeqNo      = 7
	TagBeginString     = 8
	TagBodyLength      = 9
	TagCheckSum        = 10
	TagClOrdID         = 11
	TagEndSeqNo        = 16
	TagExecID          = 17
	TagMsgSeqNum       = 34
	TagMsgType         = 35
	TagNewSeqNo        = 36
	TagOrderQty        = 38
	TagOrdStatus       = 39
	TagOrdType         = 40
	TagPossDupFlag     = 43
	TagPrice           = 44
	TagRefSeqNum       = 45
	TagSenderCompID    = 49
	TagSendingTime     = 52
	TagSide            = 54
	TagSymbol          = 55
	TagTargetCompID    = 56
	TagText            = 58
	TagTransactTime    = 60
	TagEncryptMethod   = 98
	TagExDestination   = 100
	TagHeartBtInt      = 108
	TagTestReqID       = 112
	TagOrigSendingTime = 122
	TagGapFillFlag     = 123
	TagResetSeqNumFlag = 141
	TagExecType        = 150
	TagUsername        = 553
	TagPassword        = 554
)

// Message types.
const (
	MsgHeartbeat       = "0"
	MsgTestRequest     = "1"
	MsgResendRequest   = "2"
	MsgReject          = "3"
	MsgSequenceReset   = "4"
	MsgLogout          = "5"
	MsgExecutionReport = "8"
	MsgLogon           = "A"
	MsgNewOrderSingle  = "D"
)

const sendingTimeLayout = "20060102-15:04:05.000"

// IsAdmin reports whether msgType belongs to the session layer.
func IsAdmin(msgType string) bool {
	switch msgType {
	case MsgHeartbeat, MsgTestRequest, MsgResendRequest, MsgReject, MsgSequenceReset, MsgLogout, MsgLogon:
		return true
	default:
		return false
	}
}

// Field is a single tag=value pair.
type Field struct {
	Tag   int
	Value string
}

// Message is a decoded session message. Header fields are lifted out of Body.
type Message struct {
	Type         string
	SeqNum       uint64
	SenderCompID string
	TargetCompID string
	SendingTime  time.Time
	PossDup      bool
	OrigSending  time.Time
	Body         []Field
}

// Get returns the first body value for tag.
func (m Message) Get(tag int) (string, bool) {
	for _, f := range m.Body {
		if f.Tag == tag {
			return f.Value, true
		}
	}
	return "", false
}

// GetUint returns the first body value for tag as an unsigned integer.
func (m Message) GetUint(tag int) (uint64, bool) {
	v, ok := m.Get(tag)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// GetBool reads a Y/N flag.
func (m Message) GetBool(tag int) bool {
	v, ok := m.Get(tag)
	return ok && v == "Y"
}

// With returns a copy of m with the field appended.
func (m Message) With(tag int, value string) Message {
	body := make([]Field, len(m.Body), len(m.Body)+1)
	copy(body, m.Body)
	m.Body = append(body, Field{Tag: tag, Value: value})
	return m
}

func flag(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
