package order

import (
	"strings"
	"time"

	"execcore/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
)

// Side buy, sell
type Side uint8

const (
	_side_beg Side = iota
	SideBuy
	SideSell
	_side_end
)

func (s Side) IsAvailable() bool {
	return s > _side_beg && s < _side_end
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// FIX returns the tag 54 code.
func (s Side) FIX() string {
	switch s {
	case SideBuy:
		return "1"
	case SideSell:
		return "2"
	default:
		return ""
	}
}

// ParseSide accepts buy/sell in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return SideBuy, nil
	case "sell":
		return SideSell, nil
	default:
		return _side_beg, errors.Wrapf(exception.ErrInvalidArgument, "unknown side: %q", s)
	}
}

// UnmarshalText lets config files spell sides as text.
func (s *Side) UnmarshalText(text []byte) error {
	side, err := ParseSide(string(text))
	if err != nil {
		return err
	}
	*s = side
	return nil
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Request is the normalized order handed to the session and the venue adapters.
// It is immutable once created.
type Request struct {
	Instrument    string
	Side          Side
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Venue         string
	ClientOrderID string
	CreatedAt     time.Time
}

// Validate checks the fields every venue needs.
func (r Request) Validate() error {
	switch {
	case r.Instrument == "":
		return errors.Wrap(exception.ErrInvalidArgument, "order instrument is empty")
	case !r.Side.IsAvailable():
		return errors.Wrap(exception.ErrInvalidArgument, "order side is unknown")
	case !r.Quantity.IsPositive():
		return errors.Wrapf(exception.ErrInvalidArgument, "order qty must be > 0: %s", r.Quantity)
	case r.Venue == "":
		return errors.Wrap(exception.ErrInvalidArgument, "order venue is empty")
	case r.ClientOrderID == "":
		return errors.Wrap(exception.ErrInvalidArgument, "order client order id is empty")
	}
	return nil
}
