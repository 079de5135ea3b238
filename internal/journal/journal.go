package journal

import (
	"context"

	"execcore/internal/order"
	"execcore/internal/session"
	"execcore/pkg/exception"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"gorm.io/gorm"
)

// Journal records sent orders and session events.
type Journal struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Journal, error) {
	if db == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "journal db")
	}
	return &Journal{db: db}, nil
}

// Migrate creates or updates the journal tables.
func (j *Journal) Migrate(ctx context.Context) error {
	if err := j.db.WithContext(ctx).AutoMigrate(&OrderRecord{}, &SessionEventRecord{}); err != nil {
		return errors.Wrap(err, "migrate journal")
	}
	return nil
}

func (j *Journal) RecordOrder(ctx context.Context, sessionID uuid.UUID, req order.Request, seq uint64) error {
	rec := newOrderRecord(sessionID, req, seq)
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrapf(err, "insert order %s", req.ClientOrderID)
	}
	return nil
}

func (j *Journal) RecordEvent(ctx context.Context, ev session.Event) error {
	rec := newSessionEventRecord(ev)
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return errors.Wrapf(err, "insert session event %s", ev.SessionID)
	}
	return nil
}

// Orders returns the orders sent on a session, in sequence order.
func (j *Journal) Orders(ctx context.Context, sessionID uuid.UUID) ([]OrderRecord, error) {
	var out []OrderRecord
	err := j.db.WithContext(ctx).
		Where("session_id = ?", sessionID.String()).
		Order("seq_num").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query orders of session %s", sessionID)
	}
	return out, nil
}

// Events returns a session's events, oldest first.
func (j *Journal) Events(ctx context.Context, sessionID uuid.UUID) ([]SessionEventRecord, error) {
	var out []SessionEventRecord
	err := j.db.WithContext(ctx).
		Where("session_id = ?", sessionID.String()).
		Order("id").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrapf(err, "query events of session %s", sessionID)
	}
	return out, nil
}
