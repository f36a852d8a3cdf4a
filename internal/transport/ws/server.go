// Package ws exposes the read-only observer stream: HELLO/WELCOME, then
// one OBS message per tick with each agent's current activity label.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"townlife.ai/internal/protocol"
	"townlife.ai/internal/sim/world"
)

const helloTimeout = 10 * time.Second

type Server struct {
	town *world.Town
	log  *zap.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64
}

func NewServer(t *world.Town, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		town: t,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		if !s.handshake(conn) {
			return
		}

		id := fmt.Sprintf("obs_%d", s.nextID.Add(1))
		out := make(chan []byte, 4)
		s.town.AttachObserver(id, out)
		defer s.town.DetachObserver(id)
		s.log.Info("observer attached", zap.String("observer", id))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-out:
					if !ok {
						return
					}
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Observers send nothing after HELLO; the read loop only notices
		// disconnects.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.log.Info("observer detached", zap.String("observer", id))
				return
			}
		}
	}
}

func (s *Server) handshake(conn *websocket.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return false
	}
	_ = conn.SetReadDeadline(time.Time{})

	var hello protocol.HelloMsg
	if err := json.Unmarshal(raw, &hello); err != nil || hello.Type != protocol.TypeHello {
		s.writeError(conn, protocol.ErrProtoBadRequest, "expected HELLO")
		return false
	}
	if hello.ProtocolVersion != protocol.Version {
		s.writeError(conn, protocol.ErrProtoBadRequest, "unsupported protocol version")
		return false
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		TownID:          s.town.ID(),
		TickRateHz:      s.town.TickRateHz(),
		DayTicks:        s.town.DayTicks(),
		Catalogs:        s.town.Digests(),
	}
	b, err := json.Marshal(welcome)
	if err != nil {
		return false
	}
	return conn.WriteMessage(websocket.TextMessage, b) == nil
}

func (s *Server) writeError(conn *websocket.Conn, code, msg string) {
	b, err := json.Marshal(protocol.ErrorMsg{Type: protocol.TypeError, Code: code, Message: msg})
	if err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
