package journal

import (
	"time"

	"execcore/internal/order"
	"execcore/internal/session"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderRecord struct {
	ID            uint64          `gorm:"primaryKey"`
	ClientOrderID string          `gorm:"type:varchar(64);uniqueIndex"`
	SessionID     string          `gorm:"type:varchar(36);index"`
	SeqNum        uint64          `gorm:"not null"`
	Instrument    string          `gorm:"type:varchar(32);not null"`
	Side          string          `gorm:"type:varchar(8);not null"`
	Quantity      decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	Price         decimal.Decimal `gorm:"type:numeric(36,18)"`
	Venue         string          `gorm:"type:varchar(32)"`
	CreatedAt     time.Time
}

func (OrderRecord) TableName() string {
	return "exec_orders"
}

func newOrderRecord(sessionID uuid.UUID, req order.Request, seq uint64) OrderRecord {
	return OrderRecord{
		ClientOrderID: req.ClientOrderID,
		SessionID:     sessionID.String(),
		SeqNum:        seq,
		Instrument:    req.Instrument,
		Side:          req.Side.String(),
		Quantity:      req.Quantity,
		Price:         req.Price,
		Venue:         req.Venue,
		CreatedAt:     req.CreatedAt.UTC(),
	}
}

type SessionEventRecord struct {
	ID        uint64 `gorm:"primaryKey"`
	SessionID string `gorm:"type:varchar(36);index"`
	FromState string `gorm:"type:varchar(16)"`
	ToState   string `gorm:"type:varchar(16)"`
	Kind      string `gorm:"type:varchar(32)"`
	Error     string
	Text      string
	At        time.Time `gorm:"index"`
}

func (SessionEventRecord) TableName() string {
	return "exec_session_events"
}

func newSessionEventRecord(ev session.Event) SessionEventRecord {
	rec := SessionEventRecord{
		SessionID: ev.SessionID.String(),
		FromState: ev.From.String(),
		ToState:   ev.To.String(),
		Text:      ev.Text,
		At:        ev.At.UTC(),
	}
	if ev.Err != nil {
		rec.Kind = ev.Kind.String()
		rec.Error = ev.Err.Error()
	}
	return rec
}
