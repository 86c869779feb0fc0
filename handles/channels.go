package handles

import (
	"net/http"

	"github.com/kapbl/chatgate/chat"
	"github.com/kapbl/chatgate/models"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
)

func (h *Handler) ListChannels(c echo.Context) error {
	channels, err := h.channels.List(c.Request().Context(), identityOf(c))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, lo.Map(channels, func(ch models.Channel, _ int) models.ChannelDTO {
		return ch.DTO()
	}))
}

func (h *Handler) CreateChannel(c echo.Context) error {
	var req chat.CreateChannelRequest
	if err := h.bind(c, &req); err != nil {
		return h.respondError(c, err)
	}
	created, err := h.channels.Create(c.Request().Context(), identityOf(c), req)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, created.DTO())
}

func (h *Handler) GetChannel(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	channel, err := h.channels.Get(c.Request().Context(), identityOf(c), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, channel.DTO())
}

func (h *Handler) DeleteChannel(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	if err := h.channels.Delete(c.Request().Context(), identityOf(c), id); err != nil {
		return h.respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// SetModerators replaces the moderator set with the JSON array of usernames in
// the body.
func (h *Handler) SetModerators(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	var usernames []string
	if err := h.bind(c, &usernames); err != nil {
		return h.respondError(c, err)
	}
	updated, err := h.channels.SetModerators(c.Request().Context(), identityOf(c), id, usernames)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, updated.DTO())
}

func (h *Handler) ListBlocked(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	blocked, err := h.channels.ListBlocked(c.Request().Context(), identityOf(c), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, blocked)
}

func (h *Handler) BlockUser(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	updated, err := h.channels.Block(c.Request().Context(), identityOf(c), id, c.Param("username"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, updated.DTO())
}

func (h *Handler) UnblockUser(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	updated, err := h.channels.Unblock(c.Request().Context(), identityOf(c), id, c.Param("username"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, updated.DTO())
}

func (h *Handler) IsAdmin(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	isAdmin, err := h.channels.IsAdmin(c.Request().Context(), identityOf(c), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"isAdmin": isAdmin})
}

func (h *Handler) Permissions(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return h.respondError(c, err)
	}
	perms, err := h.channels.Permissions(c.Request().Context(), identityOf(c), id)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, perms)
}
