package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jbouniol/finovera/internal/simulation"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to send the request after the upgrade
	requestWait = 30 * time.Second
)

// StreamMessage is one frame sent on the simulation stream
type StreamMessage struct {
	Type   string              `json:"type"` // step, result, error
	Step   *simulation.Step    `json:"step,omitempty"`
	Result *SimulationResponse `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
	Status int                 `json:"status,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Stream runs a simulation and pushes every step over a websocket. The client
// sends one SimulationRequest after connecting.
// GET /api/simulations/stream
func (h *SimulationHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	send := func(msg StreamMessage) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}
	sendError := func(err error) {
		_ = send(StreamMessage{Type: "error", Error: err.Error(), Status: statusFor(err)})
	}

	conn.SetReadDeadline(time.Now().Add(requestWait))
	var body SimulationRequest
	if err := conn.ReadJSON(&body); err != nil {
		_ = send(StreamMessage{Type: "error", Error: "Invalid request message", Status: http.StatusBadRequest})
		return
	}

	in, err := h.resolve(body)
	if err != nil {
		sendError(err)
		return
	}

	res, err := h.driver.RunStream(r.Context(), in.req, func(s simulation.Step) error {
		return send(StreamMessage{Type: "step", Step: &s})
	})
	if err != nil {
		h.logger.WithError(err).Debug("Simulation stream ended early")
		sendError(err)
		return
	}

	out := h.respond(res, in.profile)
	if err := send(StreamMessage{Type: "result", Result: &out}); err != nil {
		h.logger.WithError(err).Debug("Failed to send simulation result")
		return
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
