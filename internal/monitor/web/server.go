// Package web implements the optional read-only live dashboard: a fiber
// HTTP server exposing the event bus's latest Stats snapshot plus a
// websocket stream of every event, for watching a headless launcher run
// from a browser. It never accepts control input — this surface is a
// pure observer of eventbus.Stats/Log/NewTestcase/Solution events, per
// the single-writer discipline that monitor surfaces can't affect the
// fuzzing loop.
package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/corefuzz/corefuzz/internal/eventbus"
)

// Server is the read-only dashboard HTTP server.
type Server struct {
	app *fiber.App
	sub *eventbus.Subscriber

	mu    sync.RWMutex
	stats eventbus.StatsSnapshot

	clientsMu sync.Mutex
	clients   map[*websocket.Conn]bool
}

// NewServer builds a Server that renders events polled off sub.
func NewServer(sub *eventbus.Subscriber) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	s := &Server{app: app, sub: sub, clients: make(map[*websocket.Conn]bool)}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Use(cors.New())

	api := s.app.Group("/api")
	api.Get("/stats", s.handleStats)

	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleWebSocket))
	s.app.Get("/", s.handleIndex)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return c.JSON(s.stats)
}

func (s *Server) handleWebSocket(c *websocket.Conn) {
	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, c)
		s.clientsMu.Unlock()
		c.Close()
	}()

	s.mu.RLock()
	data, _ := json.Marshal(eventbus.Event{Kind: eventbus.Stats, Stats: &s.stats})
	s.mu.RUnlock()
	c.WriteMessage(websocket.TextMessage, data)

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(ev eventbus.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	for c := range s.clients {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			c.Close()
			delete(s.clients, c)
		}
	}
}

// Pump drains the subscriber in a loop, updating the cached snapshot and
// fanning every event out to connected websocket clients, until stop is
// closed. Callers run it in its own goroutine alongside Start.
func (s *Server) Pump(stop <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for {
				ev, ok := s.sub.Poll()
				if !ok {
					break
				}
				if ev.Kind == eventbus.Stats && ev.Stats != nil {
					s.mu.Lock()
					s.stats = *ev.Stats
					s.mu.Unlock()
				}
				s.broadcast(ev)
			}
		}
	}
}

// Start serves the dashboard on addr until the process exits or Stop is
// called.
func (s *Server) Start(addr string) error { return s.app.Listen(addr) }

// Stop gracefully shuts the server down.
func (s *Server) Stop() error { return s.app.Shutdown() }

func (s *Server) handleIndex(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/html; charset=utf-8")
	return c.SendString(indexHTML)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>corefuzz</title>
<style>
body { background:#0d0d0d; color:#e0e0e0; font-family:monospace; padding:2rem; }
h1 { color:#00ffff; }
.stat { display:inline-block; margin-right:2rem; }
.label { color:#666; }
.value { color:#fff; font-weight:bold; }
#log { margin-top:1rem; height:300px; overflow-y:auto; border:1px solid #333; padding:0.5rem; }
.solution { color:#ff0055; }
</style>
</head>
<body>
<h1>corefuzz</h1>
<div id="stats"></div>
<div id="log"></div>
<script>
function render(stats) {
  document.getElementById('stats').innerHTML =
    ['executions','exec_per_sec','corpus_count','solutions','coverage_bits']
      .map(k => '<span class="stat"><span class="label">'+k+':</span> <span class="value">'+(stats[k]||0)+'</span></span>')
      .join('');
}
var ws = new WebSocket('ws://' + location.host + '/ws');
ws.onmessage = function(ev) {
  var msg = JSON.parse(ev.data);
  if (msg.kind === 2 && msg.stats) { render(msg.stats); }
  var line = document.createElement('div');
  if (msg.kind === 1) { line.className = 'solution'; line.textContent = 'solution: ' + msg.input_hash; }
  else if (msg.kind === 0) { line.textContent = 'new testcase #' + msg.corpus_id; }
  else if (msg.kind === 3) { line.textContent = msg.message; }
  else { return; }
  var log = document.getElementById('log');
  log.appendChild(line);
  log.scrollTop = log.scrollHeight;
};
fetch('/api/stats').then(r => r.json()).then(render);
</script>
</body>
</html>`
