package version

import (
	"errors"

	"go-gridboard/internal/common/apperr"

	"github.com/gofiber/fiber/v2"
)

type VersionController struct {
	VersionService VersionService
}

func NewVersionController(versionService VersionService) *VersionController {
	return &VersionController{
		VersionService: versionService,
	}
}

// CreateVersion godoc
// @Summary Capture the layout's current region set as a named version
// @Tags version
// @Accept json
// @Produce json
// @Param id path string true "Layout ID"
// @Success 201 {object} LayoutVersion
// @Router /api/layouts/{id}/versions [post]
func (ctrl *VersionController) CreateVersion(ctx *fiber.Ctx) error {
	layoutID := ctx.Params("id")

	var body struct {
		Label string `json:"label"`
	}
	if err := ctx.BodyParser(&body); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	userID, ok := ctx.Locals("user_id").(string)
	if !ok || userID == "" {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	v, err := ctrl.VersionService.CreateVersion(ctx.UserContext(), layoutID, body.Label, userID)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(v)
}

// ListVersions godoc
// @Summary List a layout's versions, newest first
// @Tags version
// @Produce json
// @Param id path string true "Layout ID"
// @Success 200 {array} LayoutVersion
// @Router /api/layouts/{id}/versions [get]
func (ctrl *VersionController) ListVersions(ctx *fiber.Ctx) error {
	layoutID := ctx.Params("id")

	versions, err := ctrl.VersionService.ListVersions(ctx.UserContext(), layoutID)
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(versions)
}

// RevertToVersion godoc
// @Summary Replace the live region set with a version's snapshot
// @Tags version
// @Produce json
// @Param id path string true "Layout ID"
// @Param versionId path string true "Version ID"
// @Success 200 {object} map[string]interface{}
// @Router /api/layouts/{id}/versions/{versionId}/revert [post]
func (ctrl *VersionController) RevertToVersion(ctx *fiber.Ctx) error {
	layoutID := ctx.Params("id")
	versionID := ctx.Params("versionId")

	userID, ok := ctx.Locals("user_id").(string)
	if !ok || userID == "" {
		return ctx.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	replaced, err := ctrl.VersionService.RevertToVersion(ctx.UserContext(), layoutID, versionID, userID, ctx.Get("X-Session-Id"))
	if err != nil {
		return respondError(ctx, err)
	}
	return ctx.JSON(fiber.Map{"replaced": replaced})
}

// ExportVersions godoc
// @Summary Download version history as a spreadsheet
// @Tags version
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param id path string true "Layout ID"
// @Router /api/layouts/{id}/versions/export [get]
func (ctrl *VersionController) ExportVersions(ctx *fiber.Ctx) error {
	layoutID := ctx.Params("id")

	data, err := ctrl.VersionService.ExportVersions(ctx.UserContext(), layoutID)
	if err != nil {
		return respondError(ctx, err)
	}

	ctx.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	ctx.Set(fiber.HeaderContentDisposition, `attachment; filename="layout_versions.xlsx"`)
	return ctx.Send(data)
}

func respondError(ctx *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, apperr.ErrValidation):
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}
