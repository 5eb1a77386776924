package version

import (
	"context"
	"time"

	"go-gridboard/internal/config"
	"go-gridboard/internal/database"

	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
)

// RetentionService periodically prunes unlabeled versions beyond the
// configured cap per layout. Labeled (published) versions are never touched.
type RetentionService struct {
	VersionService VersionService
	DB             *database.MongodbDB
	Cron           *cron.Cron
	Logger         *zap.Logger
	Keep           int
}

func NewRetentionService(versionService VersionService, db *database.MongodbDB, logger *zap.Logger, cfg *config.Config) *RetentionService {
	return &RetentionService{
		VersionService: versionService,
		DB:             db,
		Cron:           cron.New(),
		Logger:         logger,
		Keep:           cfg.VersionRetention,
	}
}

func (s *RetentionService) Start() error {
	_, err := s.Cron.AddFunc("@every 1h", s.sweep)
	if err != nil {
		return err
	}
	s.Cron.Start()
	return nil
}

func (s *RetentionService) Stop() {
	s.Cron.Stop()
}

func (s *RetentionService) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	layoutIDs, err := s.DB.DB.Collection("layout_versions").Distinct(ctx, "layout_id", bson.M{})
	if err != nil {
		s.Logger.Warn("version retention sweep failed", zap.Error(err))
		return
	}

	var pruned int64
	for _, raw := range layoutIDs {
		layoutID, ok := raw.(string)
		if !ok {
			continue
		}
		n, err := s.VersionService.PruneOldVersions(ctx, layoutID, s.Keep)
		if err != nil {
			s.Logger.Warn("version prune failed", zap.String("layout", layoutID), zap.Error(err))
			continue
		}
		pruned += n
	}
	if pruned > 0 {
		s.Logger.Info("pruned stale layout versions", zap.Int64("count", pruned))
	}
}
