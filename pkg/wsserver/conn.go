package wsserver

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/metrics"
	"github.com/cuemby/mls-relay/pkg/session"
	"github.com/gorilla/websocket"
)

var errConnClosed = errors.New("connection closed")

func itoaKind(kind int) string { return strconv.Itoa(kind) }

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
	pingInterval = (pongTimeout * 9) / 10
)

// clientConn pumps frames between a gorilla/websocket connection and a
// session.Session: reader, writer, and subscription-fanout forwarder run
// as independent goroutines joined by closeOnce.
type clientConn struct {
	server  *Server
	ws      *websocket.Conn
	session *session.Session
	out     chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (c *clientConn) run() {
	c.done = make(chan struct{})
	logger := log.WithSession(c.session.ID())

	go c.writeLoop()
	go c.forwardLoop()

	if err := c.send(authChallengeFrame(c.session.Challenge())); err != nil {
		c.close()
		return
	}

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			logger.Debug().Err(err).Msg("websocket read ended")
			break
		}
		c.handleFrame(raw)
	}

	c.session.Close()
	c.close()
}

func (c *clientConn) handleFrame(raw []byte) {
	frame, err := parseClientFrame(raw)
	if err != nil {
		c.send(noticeFrame(err.Error()))
		return
	}

	switch frame.Verb {
	case "AUTH":
		if err := c.session.HandleAuth(frame.Event); err != nil {
			c.send(okFrame(frame.Event.ID, false, err.Error()))
			return
		}
		c.send(okFrame(frame.Event.ID, true, ""))

	case "EVENT":
		kind := frame.Event.Kind
		ok, reason := c.session.HandleEvent(frame.Event)
		if ok {
			metrics.EventsIngestedTotal.WithLabelValues(itoaKind(kind)).Inc()
		} else {
			metrics.EventsRejectedTotal.WithLabelValues(itoaKind(kind), reason).Inc()
		}
		c.send(okFrame(frame.Event.ID, ok, reason))

	case "REQ":
		events, eose, err := c.session.HandleReq(frame.SubID, frame.Filters)
		if err != nil {
			c.send(closedFrame(frame.SubID, err.Error()))
			return
		}
		for _, e := range events {
			c.send(eventFrame(frame.SubID, e))
		}
		if eose {
			c.send(eoseFrame(frame.SubID))
		}

	case "CLOSE":
		c.session.HandleClose(frame.SubID)
	}
}

// forwardLoop drains the session's subscription deliveries onto the
// socket's outbound queue.
func (c *clientConn) forwardLoop() {
	for {
		select {
		case d, ok := <-c.session.Outbound():
			if !ok {
				return
			}
			c.send(eventFrame(d.SubID, d.Event))
		case <-c.done:
			return
		}
	}
}

// writeLoop is the connection's sole writer, serializing outbound frames
// and periodic pings onto the socket.
func (c *clientConn) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.out:
			if !ok {
				return
			}
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// send enqueues a frame for the write loop. A full queue closes the
// connection outright rather than blocking or silently dropping.
func (c *clientConn) send(msg []byte) error {
	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		c.close()
		return errConnClosed
	}
}

func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
