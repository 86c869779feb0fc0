package handles

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// History endpoints never fail for anonymous callers or unknown channels;
// they answer with an empty list instead.

func (h *Handler) PublicHistory(c echo.Context) error {
	messages, err := h.history.Public(c.Request().Context(), identityOf(c))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

func (h *Handler) ChannelHistory(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	messages, err := h.history.Channel(c.Request().Context(), identityOf(c), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

func (h *Handler) PrivateHistory(c echo.Context) error {
	messages, err := h.history.Private(c.Request().Context(), identityOf(c), c.Param("username"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

func (h *Handler) DeleteMessage(c echo.Context) error {
	channelID, err := paramID(c, "channelId")
	if err != nil {
		return h.respondError(c, err)
	}
	messageID, err := paramID(c, "messageId")
	if err != nil {
		return h.respondError(c, err)
	}
	if err := h.channels.DeleteMessage(c.Request().Context(), identityOf(c), channelID, messageID); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListUsers(c echo.Context) error {
	users, err := h.history.Users(c.Request().Context(), identityOf(c))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, users)
}
