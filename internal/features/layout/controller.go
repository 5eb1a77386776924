package layout

import (
	"context"
	"errors"

	"go-gridboard/internal/common/apperr"

	"github.com/gofiber/fiber/v2"
)

type LayoutController struct {
	LayoutService LayoutService
}

func NewLayoutController(layoutService LayoutService) *LayoutController {
	return &LayoutController{
		LayoutService: layoutService,
	}
}

// GetMyLayout godoc
// @Summary Get or create the caller's default layout
// @Tags layout
// @Produce json
// @Success 200 {object} DashboardLayout
// @Router /api/layouts/me [get]
func (ctrl *LayoutController) GetMyLayout(ctx *fiber.Ctx) error {
	userID, tenantID, err := callerIdentity(ctx)
	if err != nil {
		return err
	}

	layout, err := ctrl.LayoutService.GetOrCreateLayout(ctx.UserContext(), tenantID, userID)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(layout)
}

// ListRegions godoc
// @Summary List regions of a layout
// @Tags layout
// @Produce json
// @Param id path string true "Layout ID"
// @Success 200 {array} Region
// @Router /api/layouts/{id}/regions [get]
func (ctrl *LayoutController) ListRegions(ctx *fiber.Ctx) error {
	layoutID := ctx.Params("id")

	regions, err := ctrl.LayoutService.ListRegions(ctx.UserContext(), layoutID)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(regions)
}

// AddRegion godoc
// @Summary Add a region to a layout
// @Tags layout
// @Accept json
// @Produce json
// @Param id path string true "Layout ID"
// @Param region body Region true "Region"
// @Success 201 {object} Region
// @Router /api/layouts/{id}/regions [post]
func (ctrl *LayoutController) AddRegion(ctx *fiber.Ctx) error {
	layoutID := ctx.Params("id")

	var region Region
	if err := ctx.BodyParser(&region); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	userID, _, err := callerIdentity(ctx)
	if err != nil {
		return err
	}

	created, err := ctrl.LayoutService.AddRegion(ctx.UserContext(), layoutID, &region, userID, sessionOf(ctx))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(created)
}

// CommitRegion godoc
// @Summary Commit a region mutation with its version token
// @Tags layout
// @Accept json
// @Produce json
// @Param id path string true "Layout ID"
// @Param regionId path string true "Region ID"
// @Param mutation body RegionMutation true "Mutation"
// @Success 200 {object} Region
// @Failure 409 {object} map[string]interface{}
// @Router /api/layouts/{id}/regions/{regionId} [put]
func (ctrl *LayoutController) CommitRegion(ctx *fiber.Ctx) error {
	layoutID := ctx.Params("id")
	regionID := ctx.Params("regionId")

	var mutation RegionMutation
	if err := ctx.BodyParser(&mutation); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if mutation.Region == nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "mutation requires a region"})
	}
	mutation.Region.ID = regionID

	userID, _, err := callerIdentity(ctx)
	if err != nil {
		return err
	}
	mutation.Actor = userID

	committed, err := ctrl.LayoutService.CommitRegion(ctx.UserContext(), layoutID, mutation, sessionOf(ctx))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(committed)
}

// RemoveRegion godoc
// @Summary Remove a region
// @Tags layout
// @Param id path string true "Layout ID"
// @Param regionId path string true "Region ID"
// @Success 204 {object} nil
// @Router /api/layouts/{id}/regions/{regionId} [delete]
func (ctrl *LayoutController) RemoveRegion(ctx *fiber.Ctx) error {
	layoutID := ctx.Params("id")
	regionID := ctx.Params("regionId")

	userID, _, err := callerIdentity(ctx)
	if err != nil {
		return err
	}

	if err := ctrl.LayoutService.RemoveRegion(ctx.UserContext(), layoutID, regionID, userID, sessionOf(ctx)); err != nil {
		return respondError(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

// SetCollapsed godoc
// @Summary Collapse or expand a region
// @Tags layout
// @Accept json
// @Produce json
// @Router /api/layouts/{id}/regions/{regionId}/collapse [post]
func (ctrl *LayoutController) SetCollapsed(ctx *fiber.Ctx) error {
	return ctrl.toggleFlag(ctx, ctrl.LayoutService.SetCollapsed)
}

// SetLocked godoc
// @Summary Lock or unlock a region
// @Tags layout
// @Accept json
// @Produce json
// @Router /api/layouts/{id}/regions/{regionId}/lock [post]
func (ctrl *LayoutController) SetLocked(ctx *fiber.Ctx) error {
	return ctrl.toggleFlag(ctx, ctrl.LayoutService.SetLocked)
}

// ResetLayout godoc
// @Summary Remove every region from a layout
// @Tags layout
// @Router /api/layouts/{id}/reset [post]
func (ctrl *LayoutController) ResetLayout(ctx *fiber.Ctx) error {
	layoutID := ctx.Params("id")

	userID, _, err := callerIdentity(ctx)
	if err != nil {
		return err
	}

	if err := ctrl.LayoutService.ResetLayout(ctx.UserContext(), layoutID, userID, sessionOf(ctx)); err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"message": "Layout reset"})
}

func (ctrl *LayoutController) toggleFlag(
	ctx *fiber.Ctx,
	op func(c context.Context, layoutID, regionID string, value bool, actor, actorSession string) (*Region, error),
) error {
	layoutID := ctx.Params("id")
	regionID := ctx.Params("regionId")

	var body struct {
		Value bool `json:"value"`
	}
	if err := ctx.BodyParser(&body); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	userID, _, err := callerIdentity(ctx)
	if err != nil {
		return err
	}

	region, err := op(ctx.UserContext(), layoutID, regionID, body.Value, userID, sessionOf(ctx))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(region)
}

func callerIdentity(ctx *fiber.Ctx) (userID, tenantID string, err error) {
	uid, _ := ctx.Locals("user_id").(string)
	tid, _ := ctx.Locals("tenant_id").(string)
	if uid == "" || tid == "" {
		return "", "", fiber.ErrUnauthorized
	}
	return uid, tid, nil
}

// sessionOf reads the client session id header so broadcasts can exclude
// the committing session from its own echo.
func sessionOf(ctx *fiber.Ctx) string {
	return ctx.Get("X-Session-Id")
}

func respondError(ctx *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrAuthorization):
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrLocked):
		return ctx.Status(fiber.StatusLocked).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrNotFound):
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrConflict):
		var ce *apperr.ConflictError
		if errors.As(err, &ce) {
			return ctx.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error(), "remote": ce.Remote})
		}
		return ctx.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	default:
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
