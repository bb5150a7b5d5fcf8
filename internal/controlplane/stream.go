package controlplane

import (
	"net/http"
	"time"

	"github.com/computemarket/cmkt/internal/models"
	"github.com/computemarket/cmkt/internal/notify"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Events read per backlog query
	backlogPage = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEventStream sends committed events after ?after= over a websocket,
// first from the event log and then live. The subscription is taken before
// the backlog is read so nothing committed in between is missed; events
// already sent from the backlog are skipped by sequence number.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	after, err := queryUint(r, "after")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	sub := s.hub.Subscribe(notify.DefaultBuffer)
	defer sub.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.With().Str("remote", r.RemoteAddr).Logger()
	log.Debug().Uint64("after", after).Msg("event stream opened")

	last := after
	send := func(ev models.Event) error {
		if ev.Seq <= last {
			return nil
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(ev); err != nil {
			return err
		}
		last = ev.Seq
		return nil
	}

	for {
		page, err := s.market.Events(last, backlogPage)
		if err != nil {
			log.Error().Err(err).Msg("event backlog")
			return
		}
		for _, ev := range page {
			if err := send(ev); err != nil {
				return
			}
		}
		if len(page) < backlogPage {
			break
		}
	}

	// Reader: keeps the deadline fresh on pongs and notices the peer leaving.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(maxMessageSize)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug().Err(err).Msg("event stream read")
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-gone:
			return

		case <-s.closing:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case ev, ok := <-sub.C:
			if !ok {
				// Dropped for lagging. The client resumes with ?after=.
				log.Warn().Uint64("last_seq", last).Msg("event stream subscriber lagging, closing")
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "lagging"),
					time.Now().Add(writeWait))
				return
			}
			if err := send(ev); err != nil {
				return
			}
		}
	}
}
