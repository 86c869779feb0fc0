package handles

import (
	"net/http"

	"github.com/kapbl/chatgate/auth"
	"github.com/kapbl/chatgate/models"
	"github.com/labstack/echo/v4"
)

func (h *Handler) Register(c echo.Context) error {
	var req auth.RegisterRequest
	if err := h.bind(c, &req); err != nil {
		return h.respondError(c, err)
	}
	user, token, err := h.accounts.Register(c.Request().Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}
	h.log.Info().Str("user", user.Username).Msg("user registered")
	return c.JSON(http.StatusCreated, map[string]any{
		"user":  models.UserDTO{Username: user.Username},
		"token": token,
	})
}

func (h *Handler) Login(c echo.Context) error {
	var req auth.LoginRequest
	if err := h.bind(c, &req); err != nil {
		return h.respondError(c, err)
	}
	token, err := h.accounts.Login(c.Request().Context(), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{
		"token":    token,
		"username": req.Username,
	})
}
