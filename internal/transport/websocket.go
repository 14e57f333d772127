package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"glide-client/internal/domain/message"
	glide_errors "glide-client/pkg/errors"
	"glide-client/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// WsClient is the websocket implementation of Transport: one
// long-lived connection with a read pump, a write pump and per-send
// acknowledgement correlation by envelope sequence.
type WsClient struct {
	conn    *websocket.Conn
	send    chan []byte
	inbound chan Inbound
	log     *logger.Logger

	seq int64

	mu      sync.Mutex
	pending map[int64]chan *message.Wire

	done      chan struct{}
	closeOnce sync.Once
}

var _ Transport = (*WsClient)(nil)

// Dial connects and starts the pumps. The bearer token authenticates
// the connection.
func Dial(ctx context.Context, url, token string, log *logger.Logger) (*WsClient, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, glide_errors.Transport("dial", err)
	}

	c := &WsClient{
		conn:    conn,
		send:    make(chan []byte, 256),
		inbound: make(chan Inbound, 256),
		log:     log,
		pending: make(map[int64]chan *message.Wire),
		done:    make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()
	return c, nil
}

func (c *WsClient) Inbound() <-chan Inbound {
	return c.inbound
}

func (c *WsClient) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
	return nil
}

// Send writes one chat message and blocks until the matching ack
// arrives or ctx ends. The ack carries the server-assigned mid and seq.
func (c *WsClient) Send(ctx context.Context, sessionType int, w *message.Wire) (*message.Wire, error) {
	action := ActionChatMessage
	if sessionType == 2 {
		action = ActionGroupMessage
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, glide_errors.Transport("send", err)
	}
	seq := atomic.AddInt64(&c.seq, 1)
	frame, err := json.Marshal(Envelope{Action: action, Seq: seq, Data: data})
	if err != nil {
		return nil, glide_errors.Transport("send", err)
	}

	ack := make(chan *message.Wire, 1)
	c.mu.Lock()
	c.pending[seq] = ack
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	select {
	case c.send <- frame:
	case <-c.done:
		return nil, glide_errors.Transport("send", glide_errors.ErrNotConnected)
	case <-ctx.Done():
		return nil, glide_errors.Transport("send", ctx.Err())
	}

	select {
	case confirmed := <-ack:
		return confirmed, nil
	case <-c.done:
		return nil, glide_errors.Transport("send", glide_errors.ErrNotConnected)
	case <-ctx.Done():
		return nil, glide_errors.Transport("send", glide_errors.ErrSendTimeout)
	}
}

// SendTyping fires a typing signal; no acknowledgement is expected.
func (c *WsClient) SendTyping(to string) error {
	frame, err := json.Marshal(Envelope{Action: ActionTyping, To: to})
	if err != nil {
		return glide_errors.Transport("typing", err)
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return glide_errors.Transport("typing", glide_errors.ErrNotConnected)
	}
}

func (c *WsClient) readPump() {
	defer func() {
		c.Close()
		close(c.inbound)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket unexpected close", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Warn("undecodable frame", zap.Error(err))
			continue
		}
		c.handleEnvelope(&env)
	}
}

func (c *WsClient) handleEnvelope(env *Envelope) {
	switch env.Action {
	case ActionAckMessage:
		var w message.Wire
		if err := json.Unmarshal(env.Data, &w); err != nil {
			c.log.Warn("undecodable ack", zap.Error(err))
			return
		}
		c.mu.Lock()
		ack, ok := c.pending[env.Seq]
		c.mu.Unlock()
		if ok {
			ack <- &w
		} else {
			c.log.Warn("ack without pending send", zap.Int64("seq", env.Seq))
		}
	case ActionChatMessage, ActionGroupMessage:
		var w message.Wire
		if err := json.Unmarshal(env.Data, &w); err != nil {
			c.log.Warn("undecodable message", zap.Error(err))
			return
		}
		c.deliver(Inbound{Action: env.Action, From: w.From, Message: &w})
	case ActionTyping:
		// relayed typing frames carry the composing peer in To
		c.deliver(Inbound{Action: env.Action, From: env.To})
	case ActionHeartbeat:
		// keepalive only
	default:
		c.log.Debug("unknown action", zap.String("action", env.Action))
	}
}

func (c *WsClient) deliver(in Inbound) {
	select {
	case c.inbound <- in:
	default:
		c.log.Warn("inbound buffer full, dropping", zap.String("action", in.Action))
	}
}

func (c *WsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
