package realtime

import (
	"fmt"
	"time"

	"go-gridboard/internal/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// HeartbeatService owns the cron scheduler that periodically broadcasts
// liveness to every tenant room.
type HeartbeatService struct {
	Hub    *Hub
	Cron   *cron.Cron
	Logger *zap.Logger
	spec   string
}

func NewHeartbeatService(hub *Hub, logger *zap.Logger, cfg *config.Config) *HeartbeatService {
	return &HeartbeatService{
		Hub:    hub,
		Cron:   cron.New(),
		Logger: logger,
		spec:   fmt.Sprintf("@every %ds", cfg.HeartbeatSeconds),
	}
}

func (s *HeartbeatService) Start() error {
	_, err := s.Cron.AddFunc(s.spec, func() {
		s.Hub.Heartbeat(time.Now())
	})
	if err != nil {
		return err
	}
	s.Cron.Start()
	s.Logger.Info("heartbeat scheduler started", zap.String("spec", s.spec))
	return nil
}

func (s *HeartbeatService) Stop() {
	s.Cron.Stop()
}
