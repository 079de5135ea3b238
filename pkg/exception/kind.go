package exception

import (
	"errors"

	yerrors "github.com/yanun0323/errors"
)

// Kind is the closed set of failure classes the execution core reports.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindInsufficientEntropy
	KindInvalidInput
	KindDrawdownLimitReached
	KindPositionLimitExceeded
	KindLogonTimeout
	KindHeartbeatTimeout
	KindSequenceGapUnrecovered
	KindTransportFailure
)

// KindCount is the number of kinds, Unknown included.
const KindCount = int(KindTransportFailure) + 1

var (
	ErrInsufficientEntropy    = yerrors.New("entropy: insufficient entropy")
	ErrInvalidInput           = yerrors.New("sizing: invalid input")
	ErrDrawdownLimitReached   = yerrors.New("risk: daily drawdown limit reached")
	ErrPositionLimitExceeded  = yerrors.New("risk: position limit exceeded")
	ErrLogonTimeout           = yerrors.New("session: logon timeout")
	ErrHeartbeatTimeout       = yerrors.New("session: heartbeat timeout")
	ErrSequenceGapUnrecovered = yerrors.New("session: sequence gap unrecovered")
	ErrTransportFailure       = yerrors.New("session: transport failure")
)

var kindErrors = [...]error{
	KindInsufficientEntropy:    ErrInsufficientEntropy,
	KindInvalidInput:           ErrInvalidInput,
	KindDrawdownLimitReached:   ErrDrawdownLimitReached,
	KindPositionLimitExceeded:  ErrPositionLimitExceeded,
	KindLogonTimeout:           ErrLogonTimeout,
	KindHeartbeatTimeout:       ErrHeartbeatTimeout,
	KindSequenceGapUnrecovered: ErrSequenceGapUnrecovered,
	KindTransportFailure:       ErrTransportFailure,
}

var kindNames = [...]string{
	KindUnknown:                "Unknown",
	KindInsufficientEntropy:    "InsufficientEntropy",
	KindInvalidInput:           "InvalidInput",
	KindDrawdownLimitReached:   "DrawdownLimitReached",
	KindPositionLimitExceeded:  "PositionLimitExceeded",
	KindLogonTimeout:           "LogonTimeout",
	KindHeartbeatTimeout:       "HeartbeatTimeout",
	KindSequenceGapUnrecovered: "SequenceGapUnrecovered",
	KindTransportFailure:       "TransportFailure",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnknown]
}

// Err returns the sentinel error for the kind, nil for KindUnknown.
func (k Kind) Err() error {
	if int(k) < len(kindErrors) {
		return kindErrors[k]
	}
	return nil
}

// Recoverable reports kinds that reject a single operation and leave the session alone.
func (k Kind) Recoverable() bool {
	switch k {
	case KindInsufficientEntropy, KindInvalidInput, KindDrawdownLimitReached, KindPositionLimitExceeded:
		return true
	default:
		return false
	}
}

// SessionFatal reports kinds that terminate the current session but not the process.
func (k Kind) SessionFatal() bool {
	switch k {
	case KindLogonTimeout, KindHeartbeatTimeout, KindSequenceGapUnrecovered, KindTransportFailure:
		return true
	default:
		return false
	}
}

// KindOf classifies err by the first sentinel found in its chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for k, sentinel := range kindErrors {
		if sentinel != nil && errors.Is(err, sentinel) {
			return Kind(k)
		}
	}
	return KindUnknown
}
