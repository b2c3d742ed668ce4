package adapter

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"polis/internal/seclevel"
)

// LevelFeed broadcasts the DLP service's current security level to
// observers over WebSocket, purely for operator visibility. It is never a
// policy input — nothing reads from LevelFeed to make a decision; it only
// mirrors seclevel.Poller.CurrentLevel() on a timer.
type LevelFeed struct {
	poller *seclevel.Poller
	period time.Duration

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func NewLevelFeed(poller *seclevel.Poller, period time.Duration) *LevelFeed {
	if period <= 0 {
		period = time.Second
	}
	return &LevelFeed{poller: poller, period: period, clients: make(map[*websocket.Conn]struct{})}
}

type levelMessage struct {
	Level string `json:"security_level"`
	At    int64  `json:"at"`
}

// Run broadcasts the current level to all connected clients every period,
// until ctx is cancelled.
func (f *LevelFeed) Run(ctx context.Context) {
	ticker := time.NewTicker(f.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			f.closeAll()
			return
		case <-ticker.C:
			f.broadcast(ctx)
		}
	}
}

func (f *LevelFeed) broadcast(ctx context.Context) {
	msg := levelMessage{Level: f.poller.CurrentLevel().String(), At: time.Now().Unix()}

	f.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(f.clients))
	for c := range f.clients {
		conns = append(conns, c)
	}
	f.mu.Unlock()

	for _, c := range conns {
		writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := wsjson.Write(writeCtx, c, msg)
		cancel()
		if err != nil {
			f.removeClient(c)
		}
	}
}

// ServeHTTP upgrades the connection and registers it as an observer. This
// handler never reads application data from the client; it is write-only.
func (f *LevelFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("levelfeed: upgrade failed", "error", err)
		return
	}
	f.addClient(conn)

	// Block until the client disconnects; observation-only, so no inbound
	// read loop beyond detecting closure is needed.
	ctx := r.Context()
	_, _, err = conn.Read(ctx)
	f.removeClient(conn)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

func (f *LevelFeed) addClient(c *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[c] = struct{}{}
}

func (f *LevelFeed) removeClient(c *websocket.Conn) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, c)
}

func (f *LevelFeed) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		c.Close(websocket.StatusGoingAway, "shutting down")
		delete(f.clients, c)
	}
}
