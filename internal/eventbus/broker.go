package eventbus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// NodeInfo is a registered cluster participant, tracked per worker using
// this domain's node-tree vocabulary (broker/node rather than
// master/worker).
type NodeInfo struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
	Executions uint64  `json:"executions"`
	Corpus     int     `json:"corpus"`
	Solutions  int     `json:"solutions"`
}

// Broker is the centralized multi-machine event manager: nodes register,
// heartbeat, post events, and poll for events other nodes published,
// generalizing a master/worker coordinator's task/result RPC into a
// broadcast event log.
type Broker struct {
	mu      sync.RWMutex
	nodes   map[string]*NodeInfo
	bus     *LocalBus
	server  *http.Server
	history []Event
}

// NewBroker creates a Broker listening on addr once Start is called.
func NewBroker(addr string) *Broker {
	b := &Broker{nodes: make(map[string]*NodeInfo), bus: NewLocalBus()}
	mux := http.NewServeMux()
	mux.HandleFunc("/register", b.handleRegister)
	mux.HandleFunc("/heartbeat", b.handleHeartbeat)
	mux.HandleFunc("/events", b.handleEvents)
	mux.HandleFunc("/poll", b.handlePoll)
	mux.HandleFunc("/nodes", b.handleNodes)
	b.server = &http.Server{Addr: addr, Handler: mux}
	return b
}

// Start serves HTTP until the listener fails or Stop is called.
func (b *Broker) Start() error { return b.server.ListenAndServe() }

// Stop gracefully shuts the broker's HTTP server down.
func (b *Broker) Stop(ctx context.Context) error { return b.server.Shutdown(ctx) }

// Nodes returns a snapshot of the currently registered nodes.
func (b *Broker) Nodes() []*NodeInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*NodeInfo, 0, len(b.nodes))
	for _, n := range b.nodes {
		out = append(out, n)
	}
	return out
}

func (b *Broker) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var n NodeInfo
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.LastSeen = time.Now()
	b.mu.Lock()
	b.nodes[n.ID] = &n
	b.mu.Unlock()
	b.bus.Subscribe(n.ID)
	w.WriteHeader(http.StatusOK)
}

func (b *Broker) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var n NodeInfo
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	if existing, ok := b.nodes[n.ID]; ok {
		existing.LastSeen = time.Now()
		existing.Executions = n.Executions
		existing.Corpus = n.Corpus
		existing.Solutions = n.Solutions
	}
	b.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (b *Broker) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.history = append(b.history, ev)
	if len(b.history) > 4096 {
		b.history = b.history[len(b.history)-4096:]
	}
	b.mu.Unlock()
	b.bus.Publish(ev, ev.NodeID)
	w.WriteHeader(http.StatusOK)
}

func (b *Broker) handlePoll(w http.ResponseWriter, r *http.Request) {
	nodeID := r.URL.Query().Get("node")
	if nodeID == "" {
		http.Error(w, "missing node query param", http.StatusBadRequest)
		return
	}
	sub, ok := b.bus.Get(nodeID)
	if !ok {
		http.Error(w, "node not registered", http.StatusNotFound)
		return
	}
	var batch []Event
	for {
		ev, ok := sub.Poll()
		if !ok {
			break
		}
		batch = append(batch, ev)
		if len(batch) >= 256 {
			break
		}
	}
	json.NewEncoder(w).Encode(batch)
}

func (b *Broker) handleNodes(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(b.Nodes())
}

// Client is a node's handle onto a remote Broker: it registers once, then
// posts events and polls for broadcast events from other nodes.
type Client struct {
	brokerAddr string
	nodeID     string
	http       *http.Client
	heartbeats *rate.Limiter
}

// NewClient builds a Client bound to nodeID, talking to the broker at
// brokerAddr ("host:port"). Heartbeats are capped at one per second so a
// tight fuzz loop polling the bus every iteration can't flood the broker
// with liveness posts.
func NewClient(brokerAddr, nodeID string) *Client {
	return &Client{
		brokerAddr: brokerAddr,
		nodeID:     nodeID,
		http:       &http.Client{Timeout: 5 * time.Second},
		heartbeats: rate.NewLimiter(rate.Limit(1), 1),
	}
}

func (c *Client) url(path string) string {
	return fmt.Sprintf("http://%s%s", c.brokerAddr, path)
}

// Register announces this node to the broker.
func (c *Client) Register(addr string) error {
	body, _ := json.Marshal(NodeInfo{ID: c.nodeID, Address: addr, LastSeen: time.Now()})
	resp, err := c.http.Post(c.url("/register"), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Heartbeat reports liveness and current counters, throttled by the
// client's rate limiter; a call arriving faster than the limiter allows is
// dropped silently (the next call will succeed once the bucket refills) —
// heartbeats are advisory, not delivery-guaranteed.
func (c *Client) Heartbeat(n NodeInfo) error {
	if !c.heartbeats.Allow() {
		return nil
	}
	n.ID = c.nodeID
	body, _ := json.Marshal(n)
	resp, err := c.http.Post(c.url("/heartbeat"), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Publish sends one event to the broker for broadcast to every other node.
func (c *Client) Publish(ev Event) error {
	ev.NodeID = c.nodeID
	ev.Time = time.Now()
	body, _ := json.Marshal(ev)
	resp, err := c.http.Post(c.url("/events"), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// Poll fetches the batch of events other nodes published since the last
// poll.
func (c *Client) Poll() ([]Event, error) {
	resp, err := c.http.Get(c.url("/poll?node=" + c.nodeID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var batch []Event
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, err
	}
	return batch, nil
}
