package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/hazyhaar/seqbrowse/session"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

// wsMessage is one frame of the event stream. The first frame carries the
// current view; later frames carry session events.
type wsMessage struct {
	Type    string         `json:"type"`
	View    *session.View  `json:"view,omitempty"`
	Event   *session.Event `json:"event,omitempty"`
	Dropped int64          `json:"dropped,omitempty"`
}

// handleEvents streams session events over a websocket. Events that do not
// fit the connection queue are dropped and counted in the next frame.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := a.mgr.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	view, err := s.View()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	queue := make(chan session.Event, a.opts.EventBuffer)
	var dropped atomic.Int64
	unsubscribe := s.Subscribe(func(ev session.Event) {
		select {
		case queue <- ev:
		default:
			dropped.Add(1)
		}
	})
	defer unsubscribe()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Closing unblocks the read loop below.
		defer conn.Close()
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		write := func(m wsMessage) bool {
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return false
			}
			return conn.WriteJSON(m) == nil
		}
		if !write(wsMessage{Type: "view", View: &view}) {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-queue:
				if !write(wsMessage{Type: "event", Event: &ev, Dropped: dropped.Swap(0)}) {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	a.logger.Debug("api: event stream opened", "session_id", id)
	// Inbound frames are ignored; reading keeps pong handling alive and
	// detects the client going away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	cancel()
	<-writerDone
	a.logger.Debug("api: event stream closed", "session_id", id)
}
