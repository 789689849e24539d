package http

import (
	"net/http"

	"github.com/dkeye/attendmeet/internal/app"
	"github.com/dkeye/attendmeet/internal/app/orch"
	"github.com/dkeye/attendmeet/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
)

type handlers struct {
	orch *orch.Orchestrator
	ice  []webrtc.ICEServer
}

type RoomsResponse struct {
	Rooms []app.RoomInfo `json:"rooms"`
}

type NewRoomResponse struct {
	Code domain.RoomCode `json:"room_code"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, RoomsResponse{Rooms: h.orch.Rooms()})
}

// newRoom hands out a code no live room uses. The room itself only exists
// once someone joins it.
func (h *handlers) newRoom(c *gin.Context) {
	c.JSON(http.StatusOK, NewRoomResponse{Code: h.orch.NewRoomCode()})
}

func (h *handlers) iceServers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ice_servers": h.ice})
}
