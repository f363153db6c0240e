package identity

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Name       string `json:"name"`
	Credential string `json:"credential"`
}

type registerResponse struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	WalletID  string    `json:"wallet_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Register handles user onboarding. Self-registered users always get the user role.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.CreateUser(c.UserContext(), CreateUserInput{Name: req.Name, Credential: req.Credential, Role: RoleUser})
	if err != nil {
		return err
	}
	wallet, err := h.service.Wallet(c.UserContext(), user.ID)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(registerResponse{
		UserID:    user.ID,
		Name:      user.Name,
		Role:      user.Role,
		WalletID:  wallet.ID,
		CreatedAt: user.CreatedAt,
	})
}
