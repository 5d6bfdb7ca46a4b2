package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/DevM15/Sew/internal/api/errors"
	"github.com/DevM15/Sew/internal/service"
)

// RoomsHandler — обработчик создания комнат.
type RoomsHandler struct {
	rooms  *service.RoomService
	logger *slog.Logger
}

// NewRoomsHandler создаёт обработчик комнат.
func NewRoomsHandler(rooms *service.RoomService, logger *slog.Logger) *RoomsHandler {
	return &RoomsHandler{
		rooms:  rooms,
		logger: logger.With(slog.String("component", "rooms_handler")),
	}
}

type createRoomResponse struct {
	Code string `json:"code"`
}

// CreateRoom обрабатывает POST /api/rooms.
func (h *RoomsHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	room, err := h.rooms.CreateRoom(r.Context())
	if err != nil {
		apierrors.FromDomain(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, createRoomResponse{Code: room.Code})
}
