package version

import (
	"go-gridboard/internal/common/api"
	"go-gridboard/internal/config"
	"go-gridboard/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type VersionApi struct {
	Controller *VersionController
	Config     *config.Config
}

func NewVersionApi(controller *VersionController, cfg *config.Config) api.Route {
	return &VersionApi{
		Controller: controller,
		Config:     cfg,
	}
}

func (h *VersionApi) Setup(app *fiber.App) {
	group := app.Group("/api/layouts/:id/versions", middleware.AuthMiddleware(h.Config.SkipAuth))

	group.Post("/", h.Controller.CreateVersion)
	group.Get("/", h.Controller.ListVersions)
	group.Get("/export", h.Controller.ExportVersions)
	group.Post("/:versionId/revert", h.Controller.RevertToVersion)
}
