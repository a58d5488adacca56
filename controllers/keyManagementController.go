package controllers

import (
	"errors"

	"brokerage-backend/keys"

	"github.com/gofiber/fiber/v2"
)

type KeyManagementController struct {
	store   *keys.Store
	rotator *keys.RotationController
}

func NewKeyManagementController(store *keys.Store, rotator *keys.RotationController) *KeyManagementController {
	return &KeyManagementController{store: store, rotator: rotator}
}

// GET /key-management/status
func (kc *KeyManagementController) Status(c *fiber.Ctx) error {
	activeKID := ""
	algorithm := ""
	if active, err := kc.store.ActiveSigningKey(); err == nil {
		activeKID = active.KID
		algorithm = active.Algorithm
	} else if !errors.Is(err, keys.ErrNoActiveKey) {
		return err
	}

	counts := kc.store.CountByStatus()
	total := 0
	byStatus := make(fiber.Map, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
		total += n
	}

	return c.JSON(fiber.Map{
		"active_kid":     activeKID,
		"algorithm":      algorithm,
		"total_keys":     total,
		"keys_by_status": byStatus,
	})
}

// POST /key-management/rotate (admin)
func (kc *KeyManagementController) Rotate(c *fiber.Ctx) error {
	result, err := kc.rotator.Rotate(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(result)
}

// GET /key-management/keys. Material is never exposed, only the preview.
func (kc *KeyManagementController) ListKeys(c *fiber.Ctx) error {
	all := kc.store.AllKeys()
	out := make([]fiber.Map, 0, len(all))
	for _, k := range all {
		entry := fiber.Map{
			"kid":         k.KID,
			"algorithm":   k.Algorithm,
			"status":      string(k.Status),
			"key_preview": k.Preview(),
			"created_at":  k.CreatedAt,
		}
		if k.RotatedAt != nil {
			entry["rotated_at"] = *k.RotatedAt
		}
		out = append(out, entry)
	}
	return c.JSON(fiber.Map{"keys": out})
}

// POST /key-management/keys/:kid/revoke (admin)
func (kc *KeyManagementController) RevokeKey(c *fiber.Ctx) error {
	if err := kc.store.RevokeKey(c.UserContext(), c.Params("kid")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
