package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"optionscalp/internal/logger"
	"optionscalp/internal/session"
)

type outbound struct {
	data []byte
	at   time.Time
}

// Client is one control connection. It owns at most one session and is
// that session's EventSink.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan outbound
	hub     *Hub
	backlog *backlog

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	seq      int64
	session  string
	starting bool
}

// Emit implements session.EventSink. It never blocks: when the queue is
// full the envelope is dropped (the client sees a seq gap and can resync).
func (c *Client) Emit(_ context.Context, m session.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.seq++
	data, err := encodeEnvelope(c.seq, m)
	if err != nil {
		log.Printf("[gateway] encode %s: %v", m.Type, err)
		return
	}
	c.backlog.push(c.seq, data)
	if m.Type == session.KindFinished && m.Session == c.session {
		c.session = ""
	}
	select {
	case c.send <- outbound{data: data, at: time.Now()}:
	default:
		if c.hub.OnDrop != nil {
			c.hub.OnDrop()
		}
	}
}

// reply queues an unsequenced control response.
func (c *Client) reply(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- outbound{data: data, at: time.Now()}:
	default:
	}
}

func (c *Client) fail(reqID string, err error) {
	c.reply(ErrorMsg{Type: string(session.KindError), ReqID: reqID, Error: err.Error()})
}

func (c *Client) ack(cmd Command, id string) {
	c.reply(Ack{Type: "ack", ReqID: cmd.ReqID, Command: cmd.Type, Session: id})
}

// close marks the client closed and returns the session it owned.
func (c *Client) close() string {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ""
	}
	c.closed = true
	close(c.send)
	id := c.session
	c.session = ""
	return id
}

func (c *Client) current() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

			// Coalesce whatever is queued into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg.data)
			c.hub.Latency.Record(time.Since(msg.at))

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next.data)
				c.hub.Latency.Record(time.Since(next.at))
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		log.Printf("[gateway] client %s disconnected", c.id)
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		var cmd Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			c.fail("", fmt.Errorf("invalid command: %w", err))
			continue
		}
		c.handle(cmd)
	}
}

var (
	errNoSession = errors.New("no session on this connection")
	errBusy      = errors.New("a session is already running on this connection")
)

func (c *Client) handle(cmd Command) {
	if cmd.Type == CmdStart {
		// Live starts wait for the first index tick; keep reading meanwhile.
		go c.start(cmd)
		return
	}
	if cmd.Type == CmdResync {
		for _, data := range c.backlog.since(cmd.FromSeq) {
			c.mu.Lock()
			if !c.closed {
				select {
				case c.send <- outbound{data: data, at: time.Now()}:
				default:
				}
			}
			c.mu.Unlock()
		}
		return
	}

	id := c.current()
	if id == "" {
		c.fail(cmd.ReqID, errNoSession)
		return
	}
	ctx := logger.WithSession(c.ctx, id)

	var err error
	switch cmd.Type {
	case CmdPause:
		err = c.hub.ctl.Pause(id)
	case CmdResume:
		err = c.hub.ctl.Resume(id)
	case CmdSpeed:
		if cmd.MS < 0 {
			err = fmt.Errorf("speed: ms must be >= 0, got %d", cmd.MS)
			break
		}
		err = c.hub.ctl.SetReplaySpeed(id, time.Duration(cmd.MS)*time.Millisecond)
	case CmdStop:
		_, err = c.hub.ctl.Stop(ctx, id)
		c.mu.Lock()
		if c.session == id {
			c.session = ""
		}
		c.mu.Unlock()
	default:
		err = fmt.Errorf("unknown command %q", cmd.Type)
	}
	if err != nil {
		c.fail(cmd.ReqID, err)
		return
	}
	c.ack(cmd, id)
	log.Printf("[gateway] %s %s", cmd.Type, id)
}

func (c *Client) start(cmd Command) {
	c.mu.Lock()
	busy := c.starting
	if c.session != "" {
		if _, ok := c.hub.ctl.Get(c.session); ok {
			busy = true
		}
	}
	if !busy {
		c.starting = true
	}
	c.mu.Unlock()
	if busy {
		c.fail(cmd.ReqID, errBusy)
		return
	}

	s, err := c.hub.ctl.Start(c.ctx, session.StartRequest{Symbol: cmd.Symbol, Mode: cmd.Mode, Date: cmd.Date}, c)

	c.mu.Lock()
	c.starting = false
	orphan := err == nil && c.closed
	if err == nil && !c.closed {
		c.session = s.ID()
	}
	c.mu.Unlock()

	if err != nil {
		c.fail(cmd.ReqID, err)
		return
	}
	if orphan {
		// the client left while the session was starting
		c.hub.ctl.Stop(context.Background(), s.ID())
		return
	}
	c.ack(cmd, s.ID())
	ctx := logger.WithSession(c.ctx, s.ID())
	slog.Info("session started", append(logger.Attrs(ctx), "client", c.id, "mode", string(cmd.Mode))...)
}
