package api

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/classbot/internal/bot"
	"github.com/npezzotti/classbot/internal/stats"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024

	feedBacklog   = 256
	clientBacklog = 64
)

// Feed fans routed event summaries out to websocket subscribers. It
// implements bot.Observer.
type Feed struct {
	log        *slog.Logger
	stats      stats.StatsProvider
	clients    map[*feedClient]struct{}
	active     atomic.Int64
	register   chan *feedClient
	deregister chan *feedClient
	broadcast  chan bot.EventSummary
	stop       chan struct{}
	done       chan struct{}
}

var _ bot.Observer = (*Feed)(nil)

func NewFeed(logger *slog.Logger, sp stats.StatsProvider) *Feed {
	if sp == nil {
		sp = stats.Discard{}
	}

	return &Feed{
		log:        logger,
		stats:      sp,
		clients:    make(map[*feedClient]struct{}),
		register:   make(chan *feedClient),
		deregister: make(chan *feedClient),
		broadcast:  make(chan bot.EventSummary, feedBacklog),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Publish queues a summary for every subscriber. Summaries are dropped when
// the feed is backed up.
func (f *Feed) Publish(summary bot.EventSummary) {
	select {
	case f.broadcast <- summary:
	default:
		f.log.Debug("feed backlog full, dropping summary", "event_id", summary.EventID)
	}
}

// Clients reports the number of connected subscribers.
func (f *Feed) Clients() int {
	return int(f.active.Load())
}

func (f *Feed) Run() {
	f.log.Info("starting event feed")
	defer close(f.done)

	for {
		select {
		case c := <-f.register:
			f.clients[c] = struct{}{}
			f.stats.Incr(stats.FeedClients)
			f.active.Add(1)
			f.log.Info("feed client connected", "subject", c.subject)
		case c := <-f.deregister:
			f.remove(c)
		case summary := <-f.broadcast:
			for c := range f.clients {
				if !c.queue(summary) {
					f.log.Warn("feed client too slow, disconnecting", "subject", c.subject)
					f.remove(c)
				}
			}
		case <-f.stop:
			for c := range f.clients {
				f.remove(c)
			}
			f.log.Info("event feed stopped")
			return
		}
	}
}

func (f *Feed) remove(c *feedClient) {
	if _, ok := f.clients[c]; !ok {
		return
	}

	delete(f.clients, c)
	close(c.send)
	f.stats.Decr(stats.FeedClients)
	f.active.Add(-1)
	f.log.Info("feed client disconnected", "subject", c.subject)
}

// add hands c to the run loop. It reports false once the feed has stopped.
func (f *Feed) add(c *feedClient) bool {
	select {
	case f.register <- c:
		return true
	case <-f.done:
		return false
	}
}

func (f *Feed) drop(c *feedClient) {
	select {
	case f.deregister <- c:
	case <-f.done:
	}
}

func (f *Feed) Shutdown() {
	select {
	case <-f.stop:
	default:
		close(f.stop)
	}
	<-f.done
}

type feedClient struct {
	conn    *websocket.Conn
	feed    *Feed
	log     *slog.Logger
	subject string
	send    chan bot.EventSummary
}

func newFeedClient(subject string, conn *websocket.Conn, f *Feed) *feedClient {
	return &feedClient{
		conn:    conn,
		feed:    f,
		log:     f.log.With("subject", subject),
		subject: subject,
		send:    make(chan bot.EventSummary, clientBacklog),
	}
}

func (c *feedClient) queue(summary bot.EventSummary) bool {
	select {
	case c.send <- summary:
		return true
	default:
		return false
	}
}

func (c *feedClient) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case summary, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}

			if err := c.conn.WriteJSON(summary); err != nil {
				c.logWriteError(err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logWriteError(err)
				return
			}
		}
	}
}

// read only services control frames. Anything the subscriber sends is
// discarded.
func (c *feedClient) read() {
	defer func() {
		c.conn.Close()
		c.feed.drop(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Warn("feed read failed", "error", err)
			}
			return
		}
	}
}

func (c *feedClient) logWriteError(err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
		websocket.CloseNormalClosure) {
		c.log.Warn("feed write failed", "error", err)
	}
}
