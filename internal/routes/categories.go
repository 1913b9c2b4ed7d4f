package routes

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// CategoryHandler manages categories. Categories have no table of
// their own; they exist as the distinct values of websites.category.
type CategoryHandler struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewCategoryHandler creates a new category handler.
func NewCategoryHandler(db *sql.DB, logger *logrus.Logger) *CategoryHandler {
	return &CategoryHandler{db: db, logger: logger}
}

type categoryRequest struct {
	Name    string `json:"name"`
	OldName string `json:"oldName"`
	NewName string `json:"newName"`
}

// Create reserves a category name, rejecting names already in use.
func (h *CategoryHandler) Create(c *fiber.Ctx) error {
	var req categoryRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "缺少分类名称",
		})
	}

	var count int
	err := h.db.QueryRowContext(c.UserContext(),
		`SELECT COUNT(*) FROM websites WHERE category = $1`, req.Name,
	).Scan(&count)
	if err != nil {
		h.logger.WithError(err).Error("Category existence check failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "创建失败",
		})
	}
	if count > 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "该分类已存在",
		})
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"message":  "分类「" + req.Name + "」创建成功",
		"category": req.Name,
	})
}

// Rename moves every website in a category to a new name.
func (h *CategoryHandler) Rename(c *fiber.Ctx) error {
	var req categoryRequest
	if err := c.BodyParser(&req); err != nil || req.OldName == "" || req.NewName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "缺少分类名称",
		})
	}

	result, err := h.db.ExecContext(c.UserContext(),
		`UPDATE websites SET category = $1 WHERE category = $2`,
		req.NewName, req.OldName,
	)
	if err != nil {
		h.logger.WithError(err).Error("Category rename failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "重命名失败",
		})
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "分类不存在",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "分类「" + req.OldName + "」已重命名为「" + req.NewName + "」",
	})
}

// Delete removes a category and every website in it.
func (h *CategoryHandler) Delete(c *fiber.Ctx) error {
	var req categoryRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "缺少分类名称",
		})
	}

	result, err := h.db.ExecContext(c.UserContext(),
		`DELETE FROM websites WHERE category = $1`, req.Name,
	)
	if err != nil {
		h.logger.WithError(err).Error("Category delete failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "删除失败",
		})
	}

	deleted, _ := result.RowsAffected()
	return c.JSON(fiber.Map{
		"success": true,
		"message": "分类「" + req.Name + "」已删除",
		"deleted": deleted,
	})
}
