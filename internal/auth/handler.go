package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/walletd/internal/identity"
)

// Handler exposes the login endpoint.
type Handler struct {
	ids *identity.Service
	svc *Service
}

func NewHandler(ids *identity.Service, svc *Service) *Handler {
	return &Handler{ids: ids, svc: svc}
}

type loginRequest struct {
	Name       string `json:"name"`
	Credential string `json:"credential"`
}

type loginResponse struct {
	UserID      string        `json:"user_id"`
	Role        identity.Role `json:"role"`
	AccessToken string        `json:"access_token"`
	ExpiresIn   int64         `json:"expires_in"`
	WalletID    string        `json:"wallet_id,omitempty"`
}

// Login validates credentials and returns an access token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.ids.Authenticate(c.UserContext(), req.Name, req.Credential)
	if err != nil {
		return err
	}
	token, err := h.svc.Issue(user)
	if err != nil {
		return err
	}
	var wid string
	if w, err := h.ids.Wallet(c.UserContext(), user.ID); err == nil {
		wid = w.ID
	}
	return c.Status(http.StatusOK).JSON(loginResponse{
		UserID:      user.ID,
		Role:        user.Role,
		AccessToken: token.AccessToken,
		ExpiresIn:   token.ExpiresIn,
		WalletID:    wid,
	})
}
