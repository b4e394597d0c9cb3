package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/kalamart/marketplace-backend/pkg/db/models"
	"github.com/kalamart/marketplace-backend/pkg/enums"
	"github.com/kalamart/marketplace-backend/pkg/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:outbox_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OutboxEvent{}))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) (*Service, *Repository) {
	t.Helper()

	repo := NewRepository(db)
	logg := logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard})
	return NewService(repo, logg), repo
}

func TestEmitStagesEnvelopeInTransaction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)
	orderID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data:          map[string]string{"order_number": "ORD-000001-0001"},
		})
	})
	require.NoError(t, err)

	var row models.OutboxEvent
	require.NoError(t, db.First(&row).Error)
	assert.Equal(t, enums.EventOrderCreated, row.EventType)
	assert.Equal(t, orderID, row.AggregateID)
	assert.Nil(t, row.PublishedAt)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	assert.Equal(t, 1, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	assert.False(t, envelope.OccurredAt.IsZero())
}

func TestEmitRequiresTransaction(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)

	err := svc.Emit(context.Background(), nil, DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
	})
	assert.Error(t, err)
}

func TestEmitRollsBackWithStateChange(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, _ := newTestService(t, db)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
		}); err != nil {
			return err
		}
		return errors.New("force rollback")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestFetchUnpublishedOrderAndAttemptFilter(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, repo := newTestService(t, db)

	var ids []uuid.UUID
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < 3; i++ {
			if err := svc.Emit(context.Background(), tx, DomainEvent{
				EventType:     enums.EventOrderCreated,
				AggregateType: enums.AggregateOrder,
				AggregateID:   uuid.New(),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	events, err := repo.FetchUnpublished(10, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	for _, ev := range events {
		ids = append(ids, ev.ID)
	}

	// Published events drop out of the batch.
	require.NoError(t, repo.MarkPublished(ids[0]))
	events, err = repo.FetchUnpublished(10, 3)
	require.NoError(t, err)
	assert.Len(t, events, 2)

	// Events past maxAttempts are held back for manual review.
	require.NoError(t, repo.MarkFailed(ids[1], errors.New("publish failed")))
	require.NoError(t, repo.MarkFailed(ids[1], errors.New("publish failed")))
	require.NoError(t, repo.MarkFailed(ids[1], errors.New("publish failed")))

	events, err = repo.FetchUnpublished(10, 3)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ids[2], events[0].ID)

	var failed models.OutboxEvent
	require.NoError(t, db.First(&failed, "id = ?", ids[1]).Error)
	assert.Equal(t, 3, failed.AttemptCount)
	require.NotNil(t, failed.LastError)
	assert.Equal(t, "publish failed", *failed.LastError)
}
