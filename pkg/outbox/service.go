package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/payflow/pkg/db"
	"github.com/angelmondragon/payflow/pkg/db/models"
	"github.com/angelmondragon/payflow/pkg/enums"
	"github.com/angelmondragon/payflow/pkg/logger"
)

var errNoTx = errors.New("outbox writes need the caller's transaction")

// Service queues order events in the same transaction as the order change
// that caused them; the publisher relays them later.
type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit queues ev. A second event of the same type for the same order violates
// the table's unique index.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, ev Event) error {
	if tx == nil {
		return errNoTx
	}
	row, eventID, err := s.encode(ev)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return fmt.Errorf("queue %s for order %d: %w", ev.Type, ev.OrderID, err)
	}
	if s.logg != nil {
		ctx = s.logg.WithOrderID(ctx, ev.OrderID)
		ctx = s.logg.WithFields(ctx, map[string]any{"event_type": ev.Type, "event_id": eventID})
		s.logg.Info(ctx, "order event queued")
	}
	return nil
}

// EmitOnce queues ev unless the order already has an event of that type.
func (s *Service) EmitOnce(ctx context.Context, tx *gorm.DB, ev Event) error {
	if tx == nil {
		return errNoTx
	}
	queued, err := s.repo.Queued(tx, ev.Type, ev.OrderID)
	if err != nil || queued {
		return err
	}
	if err := s.Emit(ctx, tx, ev); err != nil && !dbpkg.IsUniqueViolation(err, "") {
		return err
	}
	return nil
}

func (s *Service) encode(ev Event) (models.OutboxEvent, string, error) {
	if !ev.Type.IsValid() {
		return models.OutboxEvent{}, "", fmt.Errorf("unknown order event %q", ev.Type)
	}
	if ev.OrderID == 0 || ev.data == nil {
		return models.OutboxEvent{}, "", fmt.Errorf("%s needs an order and a payload", ev.Type)
	}
	data, err := json.Marshal(ev.data)
	if err != nil {
		return models.OutboxEvent{}, "", err
	}
	env := Envelope{
		Version:    envelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: ev.OccurredAt,
		Source:     ev.Source,
		Data:       data,
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = s.now().UTC()
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return models.OutboxEvent{}, "", err
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     ev.Type,
		AggregateType: enums.AggregateOrder,
		AggregateID:   ev.aggregateID(),
		Payload:       payload,
	}, env.EventID, nil
}
