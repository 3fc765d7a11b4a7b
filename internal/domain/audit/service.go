package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dossier/accessd/internal/domain/access"
	"github.com/dossier/accessd/internal/platform/auditstream"
	"github.com/dossier/accessd/internal/platform/db"
	"github.com/dossier/accessd/internal/platform/metrics"
)

// Recorder appends audit entries. Inside a transaction the entry commits or
// rolls back with the mutation it describes. Write failures are returned,
// never swallowed; whether they are fatal is the caller's decision.
type Recorder struct {
	repo    Repository
	stream  auditstream.Publisher
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRecorder(repo Repository, stream auditstream.Publisher, logger zerolog.Logger, m *metrics.Metrics) *Recorder {
	if stream == nil {
		stream = auditstream.Nop{}
	}
	return &Recorder{
		repo:    repo,
		stream:  stream,
		logger:  logger.With().Str("component", "audit").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// Record appends one entry for a CREATION, MODIFICATION or SUPPRESSION on
// entityKind/entityID performed by userID from origin.
func (r *Recorder) Record(ctx context.Context, action Action, entityKind, entityID string, userID uuid.UUID, origin string) (*Entry, error) {
	if _, ok := ParseAction(string(action)); !ok {
		return nil, fmt.Errorf("%w: unknown action %q", access.ErrValidation, action)
	}
	entityKind = strings.TrimSpace(entityKind)
	entityID = strings.TrimSpace(entityID)
	if entityKind == "" || entityID == "" {
		return nil, fmt.Errorf("%w: entity_kind and entity_id are required", access.ErrValidation)
	}
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", access.ErrValidation)
	}

	e := &Entry{
		ID:            uuid.New(),
		Action:        action,
		EntityKind:    entityKind,
		EntityID:      entityID,
		UserID:        userID,
		RecordedAt:    r.now().UTC(),
		OriginAddress: origin,
	}
	if err := r.repo.Append(ctx, e); err != nil {
		r.metrics.AuditWriteFailed(entityKind)
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	emergency := access.UnderEmergency(ctx)
	db.AfterCommit(ctx, func(ctx context.Context) {
		r.publish(ctx, e, emergency)
	})
	return e, nil
}

func (r *Recorder) publish(ctx context.Context, e *Entry, emergency bool) {
	err := r.stream.Publish(ctx, auditstream.Event{
		Seq:           e.Seq,
		ID:            e.ID.String(),
		Action:        string(e.Action),
		EntityKind:    e.EntityKind,
		EntityID:      e.EntityID,
		UserID:        e.UserID.String(),
		RecordedAt:    e.RecordedAt,
		OriginAddress: e.OriginAddress,
		Emergency:     emergency,
	})
	if err != nil {
		r.metrics.AuditStreamFailed()
		r.logger.Warn().Err(err).
			Str("audit_id", e.ID.String()).
			Str("entity_kind", e.EntityKind).
			Msg("audit entry committed but not streamed")
	}
}

func (r *Recorder) ListByEntity(ctx context.Context, entityKind, entityID string, limit, offset int) ([]*Entry, int, error) {
	return r.repo.ListByEntity(ctx, entityKind, entityID, limit, offset)
}

func (r *Recorder) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return r.repo.ListByUser(ctx, userID, limit, offset)
}

func (r *Recorder) List(ctx context.Context, limit, offset int) ([]*Entry, int, error) {
	return r.repo.List(ctx, limit, offset)
}
