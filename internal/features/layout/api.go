package layout

import (
	"go-gridboard/internal/common/api"
	"go-gridboard/internal/config"
	"go-gridboard/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type LayoutApi struct {
	Controller *LayoutController
	Config     *config.Config
}

func NewLayoutApi(controller *LayoutController, cfg *config.Config) api.Route {
	return &LayoutApi{
		Controller: controller,
		Config:     cfg,
	}
}

func (h *LayoutApi) Setup(app *fiber.App) {
	group := app.Group("/api/layouts", middleware.AuthMiddleware(h.Config.SkipAuth))

	group.Get("/me", h.Controller.GetMyLayout)
	group.Get("/:id/regions", h.Controller.ListRegions)
	group.Post("/:id/regions", h.Controller.AddRegion)
	group.Put("/:id/regions/:regionId", h.Controller.CommitRegion)
	group.Delete("/:id/regions/:regionId", h.Controller.RemoveRegion)
	group.Post("/:id/regions/:regionId/collapse", h.Controller.SetCollapsed)
	group.Post("/:id/regions/:regionId/lock", h.Controller.SetLocked)
	group.Post("/:id/reset", h.Controller.ResetLayout)
}
