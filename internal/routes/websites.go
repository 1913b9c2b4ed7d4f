package routes

import (
	"database/sql"
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zhizuo588/nav-api/internal/models"
)

// WebsiteHandler serves the navigation catalogue.
type WebsiteHandler struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewWebsiteHandler creates a new website handler.
func NewWebsiteHandler(db *sql.DB, logger *logrus.Logger) *WebsiteHandler {
	return &WebsiteHandler{db: db, logger: logger}
}

// Read returns every website grouped by category. Public.
func (h *WebsiteHandler) Read(c *fiber.Ctx) error {
	rows, err := h.db.QueryContext(c.UserContext(),
		`SELECT id, name, url, category, "desc", icon_url, lan_url, dark_icon
		 FROM websites
		 ORDER BY category, name`,
	)
	if err != nil {
		h.logger.WithError(err).Error("Website query failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "读取数据失败",
		})
	}
	defer rows.Close()

	groups := []*models.CategoryGroup{}
	byCategory := map[string]*models.CategoryGroup{}
	for rows.Next() {
		var site models.Website
		if err := rows.Scan(&site.ID, &site.Name, &site.URL, &site.Category,
			&site.Desc, &site.IconURL, &site.LanURL, &site.DarkIcon); err != nil {
			h.logger.WithError(err).Error("Website row scan failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "读取数据失败",
			})
		}
		group, ok := byCategory[site.Category]
		if !ok {
			group = &models.CategoryGroup{Category: site.Category}
			byCategory[site.Category] = group
			groups = append(groups, group)
		}
		group.Items = append(group.Items, site)
	}
	if err := rows.Err(); err != nil {
		h.logger.WithError(err).Error("Website iteration failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "读取数据失败",
		})
	}

	return c.JSON(fiber.Map{"navItems": groups})
}

type websiteRequest struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Category string `json:"category"`
	Desc     string `json:"desc"`
	IconURL  string `json:"iconUrl"`
	LanURL   string `json:"lanUrl"`
	DarkIcon bool   `json:"darkIcon"`
}

// Add inserts a website. Requires a logged-in session.
func (h *WebsiteHandler) Add(c *fiber.Ctx) error {
	var req websiteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "缺少必填字段: name, url, category",
		})
	}
	if req.Name == "" || req.URL == "" || req.Category == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "缺少必填字段: name, url, category",
		})
	}

	iconURL := req.IconURL
	if iconURL == "" {
		iconURL = fallbackFavicon(req.URL)
	}

	var id int64
	err := h.db.QueryRowContext(c.UserContext(),
		`INSERT INTO websites (name, url, category, "desc", icon_url, lan_url, dark_icon)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		req.Name, req.URL, req.Category, req.Desc, iconURL, req.LanURL, req.DarkIcon,
	).Scan(&id)
	if err != nil {
		h.logger.WithError(err).WithField("url", req.URL).Error("Website insert failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "添加失败",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"id":      id,
		"message": "网站 \"" + req.Name + "\" 已添加到「" + req.Category + "」",
	})
}

// Update rewrites a website's fields by id. Admin gated.
func (h *WebsiteHandler) Update(c *fiber.Ctx) error {
	var req websiteRequest
	if err := c.BodyParser(&req); err != nil || req.ID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "缺少必填字段: id",
		})
	}
	if req.Name == "" || req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "缺少必填字段: name, url",
		})
	}

	result, err := h.db.ExecContext(c.UserContext(),
		`UPDATE websites
		 SET name = $1, url = $2, category = $3, "desc" = $4,
		     icon_url = $5, lan_url = $6, dark_icon = $7
		 WHERE id = $8`,
		req.Name, req.URL, req.Category, req.Desc, req.IconURL, req.LanURL, req.DarkIcon, req.ID,
	)
	if err != nil {
		h.logger.WithError(err).WithField("id", req.ID).Error("Website update failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "更新失败",
		})
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "网站不存在",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "网站 \"" + req.Name + "\" 已更新",
	})
}

// Delete removes a website by id. Admin gated.
func (h *WebsiteHandler) Delete(c *fiber.Ctx) error {
	var req websiteRequest
	if err := c.BodyParser(&req); err != nil || req.ID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "缺少必填字段: id",
		})
	}

	var name string
	err := h.db.QueryRowContext(c.UserContext(),
		`DELETE FROM websites WHERE id = $1 RETURNING name`, req.ID,
	).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "网站不存在",
			})
		}
		h.logger.WithError(err).WithField("id", req.ID).Error("Website delete failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "删除失败",
		})
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "网站 \"" + name + "\" 已删除",
	})
}

// fallbackFavicon guesses an icon URL from the site's hostname.
func fallbackFavicon(siteURL string) string {
	if !strings.HasPrefix(siteURL, "http://") && !strings.HasPrefix(siteURL, "https://") {
		siteURL = "https://" + siteURL
	}
	parsed, err := url.Parse(siteURL)
	if err != nil || parsed.Hostname() == "" {
		return ""
	}
	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	return "https://" + host + "/favicon.ico"
}
