package api

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"

	"github.com/vibefeed/vibefeed/events"
	"github.com/vibefeed/vibefeed/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.FastHTTPUpgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(ctx *fasthttp.RequestCtx) bool {
		return true
	},
}

type client struct {
	sink *sink
	conn *websocket.Conn

	send chan []byte
}

func (c *client) readWorker() {
	defer func() {
		c.sink.leave <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { _ = c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writeWorker() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sink fans hub events out to websocket clients as tagged JSON frames.
type sink struct {
	clients map[*client]struct{}

	broadcast   chan []byte
	join, leave chan *client
	done        chan struct{}
}

func newSink(hub *events.Hub) *sink {
	s := &sink{
		clients:   make(map[*client]struct{}),
		broadcast: make(chan []byte, 256),
		join:      make(chan *client),
		leave:     make(chan *client),
		done:      make(chan struct{}),
	}

	hub.Subscribe(func(ev events.UserUpdated) bool { return s.push("user_updated", ev) })
	hub.Subscribe(func(ev events.TokenUpdated) bool { return s.push("token_updated", ev) })
	hub.Subscribe(func(ev events.PostUpserted) bool { return s.push("post_upserted", ev) })
	hub.Subscribe(func(ev events.TrendingReplaced) bool { return s.push("trending_replaced", ev) })
	hub.Subscribe(func(ev events.SessionReset) bool { return s.push("session_reset", ev) })
	hub.Subscribe(func(ev events.TxSubmitted) bool { return s.push("tx_submitted", ev) })
	hub.Subscribe(func(ev events.TxConfirmed) bool { return s.push("tx_confirmed", ev) })
	hub.Subscribe(func(ev events.TxFailed) bool { return s.push("tx_failed", ev) })

	return s
}

func (s *sink) push(name string, data interface{}) bool {
	frame, err := json.Marshal(struct {
		Event string      `json:"event"`
		Data  interface{} `json:"data"`
	}{Event: name, Data: data})

	if err != nil {
		log.API().Warn().Err(err).Str("event", name).Msg("Failed to marshal an event frame.")
		return true
	}

	select {
	case s.broadcast <- frame:
	case <-s.done:
		return false
	default:
		// A full broadcast queue drops the frame rather than stalling
		// the publisher.
	}

	return true
}

func (s *sink) serve(ctx *fasthttp.RequestCtx) {
	err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		client := &client{sink: s, conn: conn, send: make(chan []byte, 256)}
		s.join <- client

		go client.readWorker()

		// Keep the handler alive for the lifetime of the connection.
		client.writeWorker()
	})

	if err != nil {
		log.API().Warn().Err(err).Msg("Websocket upgrade failed.")
	}
}

func (s *sink) run() {
	for {
		select {
		case client := <-s.join:
			s.clients[client] = struct{}{}
		case client := <-s.leave:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
			}
		case frame := <-s.broadcast:
			for client := range s.clients {
				select {
				case client.send <- frame:
				default:
					close(client.send)
					delete(s.clients, client)
				}
			}
		case <-s.done:
			for client := range s.clients {
				close(client.send)
				delete(s.clients, client)
			}

			return
		}
	}
}

func (s *sink) stop() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
