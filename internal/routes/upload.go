package routes

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zhizuo588/nav-api/internal/config"
)

// UploadHandler stores icon images in an S3-compatible bucket, keyed
// by content digest so re-uploads of the same file dedupe.
type UploadHandler struct {
	s3Client *s3.Client
	cfg      *config.UploadConfig
	logger   *logrus.Logger
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(s3Client *s3.Client, cfg *config.UploadConfig, logger *logrus.Logger) *UploadHandler {
	return &UploadHandler{s3Client: s3Client, cfg: cfg, logger: logger}
}

// Image accepts a multipart "file" field, image content only.
func (h *UploadHandler) Image(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "未找到文件",
		})
	}

	contentType := fileHeader.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "只能上传图片文件",
		})
	}
	if fileHeader.Size > h.cfg.MaxSizeBytes {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "图片大小不能超过 2MB",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.logger.WithError(err).Error("Upload open failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "上传失败",
		})
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxSizeBytes+1))
	if err != nil {
		h.logger.WithError(err).Error("Upload read failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "上传失败",
		})
	}
	if int64(len(content)) > h.cfg.MaxSizeBytes {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "图片大小不能超过 2MB",
		})
	}

	digest := md5.Sum(content)
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileHeader.Filename), "."))
	if ext == "" {
		ext = "png"
	}
	now := time.Now()
	key := fmt.Sprintf("%d/%02d/%s.%s", now.Year(), int(now.Month()), hex.EncodeToString(digest[:]), ext)

	_, err = h.s3Client.PutObject(c.UserContext(), &s3.PutObjectInput{
		Bucket:      aws.String(h.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		Metadata: map[string]string{
			"original-name": fileHeader.Filename,
		},
	})
	if err != nil {
		h.logger.WithError(err).WithField("key", key).Error("Upload to bucket failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "上传失败",
		})
	}

	h.logger.WithFields(logrus.Fields{
		"key":  key,
		"size": len(content),
	}).Info("Image uploaded")

	return c.JSON(fiber.Map{
		"success": true,
		"url":     strings.TrimSuffix(h.cfg.PublicBaseURL, "/") + "/" + key,
		"message": "上传成功",
	})
}
