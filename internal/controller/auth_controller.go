package controller

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"metalcalc_backend/internal/billing"
	"metalcalc_backend/internal/model"
	"metalcalc_backend/pkg/apperror"
	"metalcalc_backend/pkg/database"
	"metalcalc_backend/pkg/utils/jwt"
)

type RegisterInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type AuthController struct {
	db      *gorm.DB
	tokens  *jwt.Manager
	billing *billing.Service
}

func NewAuthController(db *gorm.DB, tokens *jwt.Manager, svc *billing.Service) *AuthController {
	return &AuthController{db: db, tokens: tokens, billing: svc}
}

func (ac *AuthController) Register(c *fiber.Ctx) error {
	const op = "auth.register"
	input := new(RegisterInput)
	if err := parseBody(c, op, input); err != nil {
		return respondError(c, err)
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))

	var existing model.Credential
	err := ac.db.WithContext(c.UserContext()).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return respondError(c, apperror.Conflict(op, errors.New("email already exists")))
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return respondError(c, database.Classify(op, err))
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not hash password",
		})
	}

	cred := model.Credential{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: string(hashedPassword),
		CreatedAt:    time.Now().UTC(),
	}
	if err := ac.db.WithContext(c.UserContext()).Create(&cred).Error; err != nil {
		return respondError(c, database.Classify(op, err))
	}

	account, err := ac.billing.EnsureAccount(c.UserContext(), cred.UID, cred.Email)
	if err != nil {
		return respondError(c, err)
	}

	token, err := ac.tokens.GenerateToken(cred.UID, cred.Email)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not generate token",
		})
	}

	log.Info().Str("uid", cred.UID).Msg("User registered")
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "Registration successful",
		"token":   token,
		"account": account,
	})
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	input := new(LoginInput)
	if err := parseBody(c, "auth.login", input); err != nil {
		return respondError(c, err)
	}
	email := strings.ToLower(strings.TrimSpace(input.Email))

	var cred model.Credential
	if err := ac.db.WithContext(c.UserContext()).Where("email = ?", email).Take(&cred).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return respondError(c, database.Classify("auth.login", err))
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PasswordHash), []byte(input.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	token, err := ac.tokens.GenerateToken(cred.UID, cred.Email)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Could not generate token",
		})
	}

	return c.JSON(fiber.Map{
		"token": token,
		"user": fiber.Map{
			"uid":   cred.UID,
			"email": cred.Email,
		},
	})
}
