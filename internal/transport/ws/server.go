package ws

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"circled/internal/room"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	// DefaultRoom is used when the client does not name one.
	DefaultRoom = "lobby"
)

type Server struct {
	rooms    *room.Manager
	log      *log.Logger
	maxQueue int

	upgrader websocket.Upgrader
}

func NewServer(rooms *room.Manager, maxQueue int, logger *log.Logger) *Server {
	if maxQueue <= 0 {
		maxQueue = 16
	}
	return &Server{
		rooms:    rooms,
		log:      logger,
		maxQueue: maxQueue,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		roomID := strings.TrimSpace(r.URL.Query().Get("room"))
		if roomID == "" {
			roomID = DefaultRoom
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		rm := s.rooms.GetOrCreate(roomID)
		out := make(chan []byte, s.maxQueue)

		respCh := make(chan room.JoinResponse, 1)
		rm.Join() <- room.JoinRequest{Out: out, Resp: respCh}
		resp := <-respCh

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine. Pings keep the read deadline alive on
		// clients that never send.
		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ping.C:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
						cancel()
						return
					}
				case b, ok := <-out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Inbound application messages are not relayed;
		// reading only services keepalives and close detection.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				break
			}
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		}

		// Cleanup.
		rm.Leave() <- resp.ConnID
	}
}
