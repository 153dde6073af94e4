package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gocomet/ride-dispatch/internal/api/dto"
	"github.com/gocomet/ride-dispatch/internal/notify"
	apperrors "github.com/gocomet/ride-dispatch/pkg/errors"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/gocomet/ride-dispatch/pkg/websocket"
)

// HandleWebSocket handles GET /v1/ws?user_id=&user_type=rider|driver
func (h *Handlers) HandleWebSocket(c *gin.Context) {
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Code:    apperrors.CodeUnavailable,
			Message: "Realtime updates are disabled",
		})
		return
	}

	userID := c.Query("user_id")
	userType := c.Query("user_type")
	if userID == "" || (userType != string(notify.RoleRider) && userType != string(notify.RoleDriver)) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Code:    apperrors.CodeBadRequest,
			Message: "user_id and user_type (rider or driver) are required",
		})
		return
	}

	conn, err := h.Upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Error("Failed to upgrade to WebSocket", logger.Err(err))
		return
	}

	client := websocket.NewClient(h.Hub, conn, userID, userType, h.Logger)
	if !h.Hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}
