package controllers

import (
	"errors"
	"net/mail"
	"strings"

	"brokerage-backend/keys"
	"brokerage-backend/middlewares"
	"brokerage-backend/models"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type AuthController struct {
	db *gorm.DB
	ks *keys.Store
}

func NewAuthController(db *gorm.DB, ks *keys.Store) *AuthController {
	return &AuthController{db: db, ks: ks}
}

type registerRequest struct {
	FirstName       string `json:"first_name" validate:"required"`
	LastName        string `json:"last_name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := middlewares.BindAndValidate(c, &req); err != nil {
		return err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	var mailExist models.User
	ac.db.Where("email = ?", req.Email).First(&mailExist)
	if mailExist.Email != "" {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"message": "email already exists",
		})
	}

	// The first account bootstraps the deployment and gets admin; everyone
	// after is a trader.
	var count int64
	if err := ac.db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	role := models.RoleTrader
	if count == 0 {
		role = models.RoleAdmin
	}

	user := models.User{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Role:      role,
	}
	user.SetPassword(req.Password)
	if err := ac.db.Create(&user).Error; err != nil {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"message": "Could not create User",
			"error":   err.Error(),
		})
	}

	return c.JSON(user)
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var data map[string]string
	if err := c.BodyParser(&data); err != nil {
		return err
	}

	if _, err := mail.ParseAddress(data["email"]); err != nil {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{
			"message": "Invalid email format",
		})
	}

	var user models.User
	err := ac.db.Where("email = ?", strings.ToLower(data["email"])).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.Status(fiber.StatusBadRequest)
			return c.JSON(fiber.Map{"message": "Invalid credentials"})
		}
		return err
	}

	if err := user.ComparePassword(data["password"]); err != nil {
		c.Status(fiber.StatusBadRequest)
		return c.JSON(fiber.Map{"message": "Invalid credentials"})
	}

	token, err := middlewares.GenerateJWT(ac.ks, user.Id, user.Role)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user": fiber.Map{
			"id":    user.Id,
			"name":  user.FirstName + " " + user.LastName,
			"email": user.Email,
			"role":  user.Role,
		},
	})
}
