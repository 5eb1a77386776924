package engine

import (
	"context"
	"time"

	"go-gridboard/internal/config"
	"go-gridboard/internal/features/layout"

	"go.uber.org/zap"
)

// Factory builds editing sessions bound to the in-process layout service,
// carrying the configured grid geometry and save debounce window.
type Factory struct {
	service  layout.LayoutService
	columns  int
	debounce time.Duration
	logger   *zap.Logger
}

func NewFactory(service layout.LayoutService, cfg *config.Config, logger *zap.Logger) *Factory {
	return &Factory{
		service:  service,
		columns:  cfg.GridColumns,
		debounce: time.Duration(cfg.SaveDebounceMS) * time.Millisecond,
		logger:   logger,
	}
}

// Open creates a session for one layout and loads its canonical region set.
// The session id ties the engine's commits to the realtime connection so
// broadcasts exclude the session's own echo.
func (f *Factory) Open(ctx context.Context, layoutID, actor, sessionID string) (*Session, error) {
	s := NewSession(Options{
		LayoutID:    layoutID,
		GridColumns: f.columns,
		Actor:       actor,
		SessionID:   sessionID,
		Authority:   NewServiceAuthority(f.service, sessionID),
		Debounce:    f.debounce,
		Logger:      f.logger,
	})
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
