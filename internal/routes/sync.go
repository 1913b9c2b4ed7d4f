package routes

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/zhizuo588/nav-api/internal/middleware"
	"github.com/zhizuo588/nav-api/internal/models"
)

// SyncHandler stores per-account client state (favorites, ordering,
// visit counters) as opaque blobs in DynamoDB.
type SyncHandler struct {
	dynamoClient *dynamodb.Client
	tableName    string
	logger       *logrus.Logger
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(dynamoClient *dynamodb.Client, tableName string, logger *logrus.Logger) *SyncHandler {
	return &SyncHandler{
		dynamoClient: dynamoClient,
		tableName:    tableName,
		logger:       logger,
	}
}

type syncPayload struct {
	Favorites json.RawMessage `json:"favorites"`
	Order     json.RawMessage `json:"order"`
	Visits    json.RawMessage `json:"visits"`
	Clicks    json.RawMessage `json:"clicks"`
}

// Read returns the account's synced state, zero values when nothing
// has been saved yet.
func (h *SyncHandler) Read(c *fiber.Ctx) error {
	identity := middleware.Identity(c)

	result, err := h.dynamoClient.GetItem(c.UserContext(), &dynamodb.GetItemInput{
		TableName: aws.String(h.tableName),
		Key: map[string]types.AttributeValue{
			"account_id": &types.AttributeValueMemberN{
				Value: formatAccountID(identity.AccountID),
			},
		},
	})
	if err != nil {
		h.logger.WithError(err).WithField("user_id", identity.AccountID).Error("Sync read failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "读取失败",
		})
	}

	if result.Item == nil {
		return c.JSON(fiber.Map{
			"favorites": []any{},
			"order":     fiber.Map{},
			"visits":    fiber.Map{},
			"clicks":    fiber.Map{},
			"timestamp": nil,
		})
	}

	var data models.SyncData
	if err := attributevalue.UnmarshalMap(result.Item, &data); err != nil {
		h.logger.WithError(err).WithField("user_id", identity.AccountID).Error("Sync item decode failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "读取失败",
		})
	}

	return c.JSON(fiber.Map{
		"favorites": rawOrDefault(data.Favorites, "[]"),
		"order":     rawOrDefault(data.Order, "{}"),
		"visits":    rawOrDefault(data.Visits, "{}"),
		"clicks":    rawOrDefault(data.Clicks, "{}"),
		"timestamp": data.Timestamp,
	})
}

// Save overwrites the account's synced state.
func (h *SyncHandler) Save(c *fiber.Ctx) error {
	identity := middleware.Identity(c)

	var payload syncPayload
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "数据格式错误",
		})
	}

	var favorites []json.RawMessage
	if payload.Favorites == nil || json.Unmarshal(payload.Favorites, &favorites) != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "数据格式错误",
		})
	}

	timestamp := time.Now().UnixMilli()
	data := models.SyncData{
		AccountID: identity.AccountID,
		Favorites: string(payload.Favorites),
		Order:     blobOrDefault(payload.Order, "{}"),
		Visits:    blobOrDefault(payload.Visits, "{}"),
		Clicks:    blobOrDefault(payload.Clicks, "{}"),
		Timestamp: timestamp,
	}

	item, err := attributevalue.MarshalMap(data)
	if err != nil {
		h.logger.WithError(err).Error("Sync item encode failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "保存失败",
		})
	}

	_, err = h.dynamoClient.PutItem(c.UserContext(), &dynamodb.PutItemInput{
		TableName: aws.String(h.tableName),
		Item:      item,
	})
	if err != nil {
		h.logger.WithError(err).WithField("user_id", identity.AccountID).Error("Sync write failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "保存失败",
		})
	}

	return c.JSON(fiber.Map{
		"success":   true,
		"timestamp": timestamp,
	})
}

func formatAccountID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func rawOrDefault(blob, fallback string) json.RawMessage {
	if blob == "" {
		return json.RawMessage(fallback)
	}
	return json.RawMessage(blob)
}

func blobOrDefault(raw json.RawMessage, fallback string) string {
	if raw == nil {
		return fallback
	}
	return string(raw)
}
