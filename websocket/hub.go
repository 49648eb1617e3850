package websocket

import (
	"sync"
	"time"

	"archivist/types"

	"github.com/charmbracelet/log"
)

// AllJobs is the job key of observers that receive every job's events
const AllJobs = "all"

// Hub interface defines the methods for managing WebSocket connections
type Hub interface {
	Run()
	Stop()
	Send(jobID string, ev types.Event)
	RegisterClient(client *Client)
	UnregisterClient(client *Client)
	Clients(jobID string) int
}

// hub maintains the set of active clients and fans job events out to them
type hub struct {
	// Registered clients mapped by job ID
	clients map[string]map[*Client]bool

	broadcast  chan types.Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	mu     sync.RWMutex
	logger *log.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(logger *log.Logger) Hub {
	return &hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan types.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.WithPrefix("ws"),
	}
}

// Run starts the hub's main event loop
func (h *hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for _, clients := range h.clients {
				for client := range clients {
					client.close()
				}
			}
			h.clients = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.jobID] == nil {
				h.clients[client.jobID] = make(map[*Client]bool)
			}
			h.clients[client.jobID][client] = true
			h.mu.Unlock()
			h.logger.Debug("client connected", "job", client.jobID)

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("client disconnected", "job", client.jobID)

		case ev := <-h.broadcast:
			h.deliver(ev.JobID, ev)
			h.deliver(AllJobs, ev)
		}
	}
}

func (h *hub) deliver(key string, ev types.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[key]
	if !ok {
		return
	}
	for client := range clients {
		if !client.push(ev) {
			h.logger.Warn("client too slow, dropping it", "job", key)
			client.close()
			delete(clients, client)
		}
	}
	if len(clients) == 0 {
		delete(h.clients, key)
	}
}

func (h *hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.clients[client.jobID]; ok {
		if _, ok := clients[client]; ok {
			delete(clients, client)
			client.close()
			if len(clients) == 0 {
				delete(h.clients, client.jobID)
			}
		}
	}
}

// Send queues ev for every client of jobID and every all-jobs observer.
// It blocks while the queue is full so terminal events are never lost.
func (h *hub) Send(jobID string, ev types.Event) {
	ev.JobID = jobID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// RegisterClient registers a new client with the hub
func (h *hub) RegisterClient(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

// UnregisterClient unregisters a client from the hub
func (h *hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Clients reports how many sockets are attached to jobID
func (h *hub) Clients(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[jobID])
}

// Stop closes every client and ends Run
func (h *hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}
