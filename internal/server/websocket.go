package server

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/eloisaabril01/emailscrap/internal/logger"
)

const wsWriteTimeout = 10 * time.Second

func (s *Server) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
}

// checkOrigin accepts clients without an Origin header, pages served from this host
// and origins starting with one of the configured prefixes.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range s.allowedOrigins {
		if allowed != "" && strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	s.log.Warnw("Websocket origin rejected", "origin", origin, "host", r.Host)
	return false
}

// handleProgressWS pushes a State snapshot on connect and after every change until the
// client goes away.
func (s *Server) handleProgressWS(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return nil
	}
	defer conn.Close()

	// The read loop only exists to notice the client closing the connection.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	tracker := s.runs.Tracker()
	ping := time.NewTicker(s.wsPing)
	defer ping.Stop()
	var lastVersion uint64
	first := true
	for {
		changed := tracker.Changed()
		st := tracker.Snapshot()
		if first || st.Version != lastVersion {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(st); err != nil {
				s.log.Debugw("Progress websocket write failed", logger.FieldError, err)
				return nil
			}
			first, lastVersion = false, st.Version
		}

		select {
		case <-changed:
		case <-ping.C:
			deadline := time.Now().Add(wsWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return nil
			}
		case <-gone:
			return nil
		case <-c.Request().Context().Done():
			return nil
		}
	}
}
