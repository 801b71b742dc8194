package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/olyamironova/token-exchange/internal/api/dto"
	"go.uber.org/zap"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// marketStream pushes a snapshot on connect and an update after every book
// change. ?depth=N limits the levels sent per side.
func (s *HTTPServer) marketStream(c *gin.Context) {
	depth, err := intQuery(c, "depth", 20)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.Eng.Subscribe(256)
	defer unsubscribe()

	// Reader: handles pongs and notices the client going away.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg dto.MarketMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("websocket write failed", zap.Error(err))
			return false
		}
		return true
	}

	if !send(dto.MarketMessage{
		Type:      "snapshot",
		Orderbook: dto.FromDepth(s.Eng.Depth(depth)),
		Market:    s.Eng.MarketData(),
	}) {
		return
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if !send(dto.MarketMessage{
				Type:      "update",
				Orderbook: dto.FromDepth(u.Depth.Limit(depth)),
				Market:    u.MarketData,
				Trades:    dto.FromTrades(u.Trades),
			}) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
