package serve

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"flowcam/notify"
	"flowcam/video/process"
)

const (
	// Time allowed to write message to the client
	writeWait  = 10 * time.Second
	pingPeriod = 10 * time.Second
)

// FlowSubscriber provides a latest-wins feed of motion samples.
type FlowSubscriber interface {
	Subscribe() (<-chan process.MotionSample, func())
}

// FlowMessage is one websocket message. Exactly one field is set.
type FlowMessage struct {
	Sample *process.MotionSample `json:"sample,omitempty"`
	Alert  *notify.Notification  `json:"alert,omitempty"`
}

// FlowStream pushes every motion sample, and any jitter alerts, to websocket
// clients.
type FlowStream struct {
	flow     FlowSubscriber
	upgrader websocket.Upgrader
	cs       map[chan *notify.Notification]bool
	addc     chan chan *notify.Notification
	delc     chan chan *notify.Notification
	notify   chan *notify.Notification
}

func NewFlowStream(flow FlowSubscriber) *FlowStream {
	m := &FlowStream{
		flow: flow,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		cs:     make(map[chan *notify.Notification]bool),
		addc:   make(chan chan *notify.Notification),
		delc:   make(chan chan *notify.Notification),
		notify: make(chan *notify.Notification),
	}
	go func() {
		for {
			select {
			case c := <-m.addc:
				m.cs[c] = true
			case c := <-m.delc:
				delete(m.cs, c)
			case n := <-m.notify:
				for k := range m.cs {
					select {
					case k <- n:
					default:
						// Client still busy with the previous alert.
					}
				}
			}
		}
	}()
	return m
}

// Notify implements notify.NotifyListener.
func (m *FlowStream) Notify(n *notify.Notification) error {
	m.notify <- n
	return nil
}

func (m *FlowStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if _, ok := err.(websocket.HandshakeError); !ok {
			log.WithField("addr", r.RemoteAddr).Errorf("Websocket handshake failed for flow stream: %v", err)
		}
		return
	}
	go m.serve(ws)
}

func (m *FlowStream) write(ws *websocket.Conn, msg FlowMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteMessage(websocket.TextMessage, b)
}

func (m *FlowStream) serve(ws *websocket.Conn) {
	clog := log.WithField("addr", ws.RemoteAddr())
	clog.Info("connected to flow stream socket")
	defer func() {
		ws.Close()
		clog.Info("disconnected from flow stream socket")
	}()
	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	notifyc := make(chan *notify.Notification, 1)
	m.addc <- notifyc
	defer func() { m.delc <- notifyc }()

	samples, unsubscribe := m.flow.Subscribe()
	defer unsubscribe()

	// Even though we don't care about incoming messages, we need to read from
	// the socket in order to process control messages.
	closed := make(chan bool)
	go func() {
		for {
			if _, _, err := ws.NextReader(); err != nil {
				close(closed)
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case s, ok := <-samples:
			if !ok {
				return
			}
			if err := m.write(ws, FlowMessage{Sample: &s}); err != nil {
				return
			}
		case n := <-notifyc:
			if err := m.write(ws, FlowMessage{Alert: n}); err != nil {
				return
			}
		case <-pingTicker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
