package main

import (
	"context"
	"fmt"
	"log"
	"time"

	common_api "go-gridboard/internal/common/api"
	"go-gridboard/internal/config"
	"go-gridboard/internal/database"
	"go-gridboard/internal/engine"
	"go-gridboard/internal/features/audit"
	"go-gridboard/internal/features/layout"
	"go-gridboard/internal/features/realtime"
	"go-gridboard/internal/features/version"
	"go-gridboard/internal/logger"
	"go-gridboard/internal/middleware"
	"go-gridboard/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(middleware.CORSMiddleware())

	return app
}

// AsRoute is a helper function to reduce boilerplate.
// It tags the constructor so Fx knows to add it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),
		fx.ResultTags(`group:"routes"`),
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route) {
	for _, route := range routes {
		route.Setup(app)
	}
	log.Printf("Registered %d routes\n", len(routes))
}

// RegisterAllRoutesWithAnnotation wraps RegisterAllRoutes with fx annotations
var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			utils.SetSecret(cfg.JWTSecret)
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				if err := app.Listen(port); err != nil {
					log.Fatalf("Server failed to start: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})
}

// InitializeIndexes ensures that necessary database indexes are created
func InitializeIndexes(lc fx.Lifecycle, layoutRepo layout.LayoutRepository) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := layoutRepo.EnsureIndexes(ctx); err != nil {
					log.Printf("Failed to ensure layout indexes: %v", err)
				}
			}()
			return nil
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			// Load Config
			config.LoadConfig,

			// Initialize Logger
			logger.NewLogger,

			// Initialize Fiber Server
			NewFiberServer,

			// Initialize Database
			database.NewDatabase,

			// Initialize Repositories
			audit.NewAuditRepository,
			layout.NewLayoutRepository,
			version.NewVersionRepository,

			// Realtime hub (the broadcast room registry)
			realtime.NewHub,
			func(h *realtime.Hub) layout.Broadcaster { return h },

			// Services
			audit.NewAuditService,
			layout.NewLayoutService,
			version.NewVersionService,
			version.NewRetentionService,
			realtime.NewHeartbeatService,

			// Engine session factory for websocket-driven editing
			engine.NewFactory,

			// Controllers
			layout.NewLayoutController,
			version.NewVersionController,
			realtime.NewWebSocketController,

			// API Routes
			AsRoute(layout.NewLayoutApi),
			AsRoute(version.NewVersionApi),
			AsRoute(realtime.NewWebSocketApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			RegisterAllRoutesWithAnnotation,
			StartServer,
			func(lc fx.Lifecycle, heartbeat *realtime.HeartbeatService, retention *version.RetentionService) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						if err := heartbeat.Start(); err != nil {
							return err
						}
						return retention.Start()
					},
					OnStop: func(ctx context.Context) error {
						heartbeat.Stop()
						retention.Stop()
						return nil
					},
				})
			},
			InitializeIndexes,
		),
	)

	app.Run()
}
