package audit

import (
	"context"
	"time"

	common_models "go-gridboard/internal/common/models"

	"go.uber.org/zap"
)

type AuditService interface {
	LogChange(ctx context.Context, action common_models.AuditAction, layoutID, regionID, actorID string, changes map[string]common_models.Change) error
	History(ctx context.Context, layoutID string, limit int64) ([]common_models.AuditLog, error)
}

type AuditServiceImpl struct {
	AuditRepo AuditRepository
	Logger    *zap.Logger
}

func NewAuditService(auditRepo AuditRepository, logger *zap.Logger) AuditService {
	return &AuditServiceImpl{
		AuditRepo: auditRepo,
		Logger:    logger,
	}
}

func (s *AuditServiceImpl) LogChange(ctx context.Context, action common_models.AuditAction, layoutID, regionID, actorID string, changes map[string]common_models.Change) error {
	entry := &common_models.AuditLog{
		Action:    action,
		LayoutID:  layoutID,
		RegionID:  regionID,
		ActorID:   actorID,
		Changes:   changes,
		Timestamp: time.Now(),
	}
	if err := s.AuditRepo.Insert(ctx, entry); err != nil {
		// Audit failures must never fail the mutation itself.
		s.Logger.Warn("audit insert failed", zap.String("layout", layoutID), zap.Error(err))
		return err
	}
	return nil
}

func (s *AuditServiceImpl) History(ctx context.Context, layoutID string, limit int64) ([]common_models.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.AuditRepo.FindByLayout(ctx, layoutID, limit)
}
