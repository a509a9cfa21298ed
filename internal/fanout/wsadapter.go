package fanout

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 8192
	wsSendBufferSize = 64
)

// WSSubscriber adapts a gorilla/websocket connection to the Subscriber
// port: one concrete transport implementation alongside whatever other
// transport a host process chooses to wire in.
type WSSubscriber struct {
	id   string
	conn *websocket.Conn
	send chan Message

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSSubscriber wraps conn as a Subscriber identified by id. Call Run in
// its own goroutine to start the read/write pumps; the caller is
// responsible for Hub.Join/Hub.Leave around the connection's lifetime.
func NewWSSubscriber(id string, conn *websocket.Conn) *WSSubscriber {
	return &WSSubscriber{
		id:   id,
		conn: conn,
		send: make(chan Message, wsSendBufferSize),
		done: make(chan struct{}),
	}
}

func (s *WSSubscriber) ID() string { return s.id }

// Send enqueues msg for the write pump. Never blocks: a full send buffer
// means the peer is not draining fast enough, which closing the
// connection resolves.
func (s *WSSubscriber) Send(msg Message) error {
	select {
	case s.send <- msg:
		return nil
	default:
		s.Close()
		return websocket.ErrCloseSent
	}
}

// Run drives the read and write pumps until the connection closes or Close
// is called. Blocks until both pumps exit, then calls onClose (typically
// Hub.Leave) if it is non-nil.
func (s *WSSubscriber) Run(onClose func()) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.readPump()
	}()
	go func() {
		defer wg.Done()
		s.writePump()
	}()
	wg.Wait()
	if onClose != nil {
		onClose()
	}
}

// Close stops both pumps; safe to call more than once.
func (s *WSSubscriber) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *WSSubscriber) readPump() {
	defer s.Close()
	s.conn.SetReadLimit(wsMaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Str("subscriber", s.id).Err(err).Msg("fanout: websocket unexpected close")
			}
			return
		}
	}
}

func (s *WSSubscriber) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			b, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
