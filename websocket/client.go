package websocket

import (
	"net/http"
	"sync"
	"time"

	"archivist/types"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// WebSocket upgrader with CORS support
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// origins are enforced by the CORS middleware
		return true
	},
}

// Responder receives the messages a caller sends on a job socket
type Responder interface {
	Respond(jobID string, msg types.ClientMessage) error
}

// Client represents a WebSocket client connection
type Client struct {
	hub     Hub
	conn    *websocket.Conn
	send    chan types.Event
	quit    chan struct{}
	once    sync.Once
	jobID   string
	jobs    Responder
	watcher *watcher
	logger  *log.Logger
}

// NewClient creates a new WebSocket client for jobID, or for every job
// when jobID is AllJobs
func NewClient(hub Hub, conn *websocket.Conn, jobID string, jobs Responder, logger *log.Logger) *Client {
	c := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan types.Event, 256),
		quit:   make(chan struct{}),
		jobID:  jobID,
		jobs:   jobs,
		logger: logger.With("job", jobID),
	}
	c.watcher = newWatcher(c)
	return c
}

// StartPumps starts the read and write pumps for the client
func (c *Client) StartPumps() {
	go c.writePump()
	go c.readPump()
}

// push queues ev without blocking, reporting false when the client is
// full or gone
func (c *Client) push(ev types.Event) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() { close(c.quit) })
}

// readPump decodes caller messages and hands them to the job
func (c *Client) readPump() {
	defer func() {
		c.hub.UnregisterClient(c)
		c.watcher.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg types.ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read failed", "err", err)
			}
			return
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg types.ClientMessage) {
	var err error
	switch msg.Type {
	case types.MessageWatchPath:
		err = c.watcher.watch(msg.Path)
	case types.MessageUnwatchPath:
		err = c.watcher.unwatch(msg.Path)
	default:
		if c.jobID == AllJobs {
			c.logger.Warn("ignoring job message on the all-jobs socket", "type", msg.Type)
			return
		}
		err = c.jobs.Respond(c.jobID, msg)
	}
	if err != nil {
		c.logger.Warn("message rejected", "type", msg.Type, "err", err)
		c.push(types.Event{JobID: c.jobID, Type: types.EventWarning, Message: err.Error(), Timestamp: time.Now()})
	}
}

// writePump handles writing to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.quit:
			c.drain()
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.logger.Debug("write failed", "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// drain flushes whatever was queued before the client was closed
func (c *Client) drain() {
	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				return
			}
		default:
			return
		}
	}
}

// Upgrade switches an HTTP request to a WebSocket connection
func Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}
