package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/supercopa/totem/internal/analytics"
	"github.com/supercopa/totem/internal/logging"
	"github.com/supercopa/totem/supabase/client"
)

const (
	// LiveWriteTimeout bounds a single push to one dashboard.
	LiveWriteTimeout = 5 * time.Second
	liveBuildTimeout = 10 * time.Second
)

// DashboardSource builds the dashboard document.
type DashboardSource interface {
	Dashboard(ctx context.Context) (*analytics.Dashboard, error)
}

// LiveMessage is one push on the live socket.
type LiveMessage struct {
	Type      string               `json:"type"`
	Reason    string               `json:"reason"`
	Dashboard *analytics.Dashboard `json:"dashboard,omitempty"`
	Error     string               `json:"error,omitempty"`
}

type liveClient struct {
	id     string
	notify chan string
}

// LiveFeed pushes the dashboard to connected websockets on a fixed period
// and whenever Notify is called.
type LiveFeed struct {
	source   DashboardSource
	refresh  time.Duration
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*liveClient
	nextID  int
}

// NewLiveFeed builds a feed. origins follow the CORS list; "*" or an empty
// list accepts any origin.
func NewLiveFeed(source DashboardSource, refresh time.Duration, origins []string, logger *logging.Logger) *LiveFeed {
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	f := &LiveFeed{
		source:  source,
		refresh: refresh,
		logger:  logger,
		clients: make(map[string]*liveClient),
	}
	f.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(origins),
	}
	return f
}

func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimSuffix(strings.TrimSpace(o), "/")
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		if o != "" {
			allowed[o] = true
		}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// Clients returns the number of connected dashboards.
func (f *LiveFeed) Clients() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// Notify asks every connected dashboard to refresh. Bursts collapse into a
// single push per client.
func (f *LiveFeed) Notify(reason string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, c := range f.clients {
		select {
		case c.notify <- reason:
		default:
		}
	}
}

// HandleChange adapts Notify to the realtime change handler.
func (f *LiveFeed) HandleChange(ev client.ChangeEvent) {
	f.Notify(ev.Table + ":" + strings.ToLower(ev.Type))
}

func (f *LiveFeed) addClient() *liveClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c := &liveClient{id: fmt.Sprintf("dashboard-%d", f.nextID), notify: make(chan string, 1)}
	f.clients[c.id] = c
	return c
}

func (f *LiveFeed) removeClient(c *liveClient) {
	f.mu.Lock()
	delete(f.clients, c.id)
	f.mu.Unlock()
}

// ServeHTTP upgrades the request and streams until the peer goes away.
func (f *LiveFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered with an HTTP error.
		f.logger.WithContext(r.Context()).WithError(err).Debug("live upgrade failed")
		return
	}
	defer conn.Close()

	c := f.addClient()
	defer f.removeClient(c)
	log := f.logger.WithContext(r.Context()).WithField("client_id", c.id)
	log.WithField("clients", f.Clients()).Info("Dashboard connected")

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	ticker := time.NewTicker(f.refresh)
	defer ticker.Stop()

	reason := "connect"
	for {
		if err := f.push(r.Context(), conn, reason); err != nil {
			log.WithError(err).Debug("live push failed")
			return
		}
		select {
		case <-closed:
			log.Info("Dashboard disconnected")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			reason = "refresh"
		case reason = <-c.notify:
		}
	}
}

func (f *LiveFeed) push(ctx context.Context, conn *websocket.Conn, reason string) error {
	bctx, cancel := context.WithTimeout(ctx, liveBuildTimeout)
	d, err := f.source.Dashboard(bctx)
	cancel()

	msg := LiveMessage{Type: "dashboard", Reason: reason, Dashboard: d}
	if err != nil {
		msg.Type = "error"
		msg.Dashboard = nil
		msg.Error = "Falha ao carregar o painel"
		f.logger.WithContext(ctx).WithError(err).Warn("live dashboard build failed")
	}
	if err := conn.SetWriteDeadline(time.Now().Add(LiveWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// readUntilClosed drains client frames so control messages are handled,
// and closes closed when the peer hangs up. Dead peers are caught by the
// write deadline on the next push.
func readUntilClosed(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
