package serve

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	// Time allowed to write message to the client
	writeWait  = 10 * time.Second
	pingPeriod = 10 * time.Second
)

// StatusUpdater pushes the pipeline status to websocket clients every period.
type StatusUpdater struct {
	pipeline StatusProvider
	upgrader websocket.Upgrader

	cs   map[chan []byte]bool
	addc chan chan []byte
	delc chan chan []byte
	done chan bool
}

func NewStatusUpdater(p StatusProvider, period time.Duration) *StatusUpdater {
	m := &StatusUpdater{
		pipeline: p,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The MJPEG and status routes are open to any origin as well.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		cs:   make(map[chan []byte]bool),
		addc: make(chan chan []byte),
		delc: make(chan chan []byte),
		done: make(chan bool),
	}
	go m.loop(period)
	return m
}

func (m *StatusUpdater) loop(period time.Duration) {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case c := <-m.addc:
			m.cs[c] = true
		case c := <-m.delc:
			delete(m.cs, c)
		case <-t.C:
			if len(m.cs) == 0 {
				continue
			}
			js, err := json.Marshal(currentStatus(m.pipeline))
			if err != nil {
				log.Errorf("Failed to encode status: %v", err)
				continue
			}
			for c := range m.cs {
				select {
				case c <- js:
				default:
					// Client still writing the previous update.
				}
			}
		case <-m.done:
			return
		}
	}
}

// Close stops the periodic updates. Connected clients are left to time out.
func (m *StatusUpdater) Close() {
	close(m.done)
}

func (m *StatusUpdater) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.WithField("addr", r.RemoteAddr).Errorf("Websocket handshake failed for status stream: %v", err)
		}
		return
	}
	go m.serve(ws)
}

func (m *StatusUpdater) serve(ws *websocket.Conn) {
	clog := log.WithField("addr", ws.RemoteAddr())
	clog.Info("connected to status socket")
	defer func() {
		ws.Close()
		clog.Info("disconnected from status socket")
	}()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	updates := make(chan []byte, 1)
	select {
	case m.addc <- updates:
	case <-m.done:
		return
	}
	defer func() {
		select {
		case m.delc <- updates:
		case <-m.done:
		}
	}()

	// Even though we don't care about incoming messages, we need to read from
	// the socket in order to process control messages.
	closed := make(chan bool)
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case js := <-updates:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, js); err != nil {
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		case <-closed:
			return
		case <-m.done:
			return
		}
	}
}
