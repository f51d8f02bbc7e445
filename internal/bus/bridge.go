package bus

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// The bridge extends the bus across processes on the same machine: one
// process hosts a loopback relay, every other process dials in, and each
// frame a connection sends is echoed to all other connections. Together with
// the in-process hub this gives BroadcastChannel semantics to independent
// "tabs" running as separate processes.

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 1 << 20 // voice frames are base64 PCM, keep headroom
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type relayConn struct {
	conn *websocket.Conn
	send chan []byte
}

// Relay is the hosting side of the bridge. It never inspects frames beyond
// relaying them; protocol versioning happens through the channel name in the
// URL, so stale tabs simply fail to attach.
type Relay struct {
	conns      map[*relayConn]bool
	relay      chan frameFrom
	register   chan *relayConn
	unregister chan *relayConn
}

type frameFrom struct {
	origin *relayConn
	data   []byte
}

func NewRelay() *Relay {
	r := &Relay{
		conns:      make(map[*relayConn]bool),
		relay:      make(chan frameFrom),
		register:   make(chan *relayConn),
		unregister: make(chan *relayConn),
	}
	go r.run()
	return r
}

func (r *Relay) run() {
	for {
		select {
		case c := <-r.register:
			r.conns[c] = true
		case c := <-r.unregister:
			if _, ok := r.conns[c]; ok {
				delete(r.conns, c)
				close(c.send)
			}
		case f := <-r.relay:
			for c := range r.conns {
				if c == f.origin {
					continue
				}
				select {
				case c.send <- f.data:
				default:
					close(c.send)
					delete(r.conns, c)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request and pumps frames for one attached process.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("bridge upgrade: %v", err)
		return
	}
	c := &relayConn{conn: conn, send: make(chan []byte, sendBufferSize)}
	r.register <- c
	go c.writePump()
	go c.readPump(r)
}

func (c *relayConn) readPump(r *Relay) {
	defer func() {
		r.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		r.relay <- frameFrom{origin: c, data: data}
	}
}

func (c *relayConn) writePump() {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, nil)
}

// Conn is the dialing side of the bridge.
type Conn struct {
	ws   *websocket.Conn
	send chan []byte
}

// Dial attaches to a relay hosted at url (ws://host/bus/<channel>).
func Dial(url string) (*Conn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	c := &Conn{ws: ws, send: make(chan []byte, sendBufferSize)}
	go func() {
		for data := range c.send {
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()
	return c, nil
}

func (c *Conn) Close() {
	close(c.send)
	c.ws.Close()
}

// Connect splices a bridge connection into a local bus: frames arriving from
// the relay are published locally, and locally published events are
// forwarded to the relay. The splice subscription is the origin for remote
// events, so the hub's self-exclusion keeps them from bouncing back out.
func Connect(b *Bus, c *Conn) *Subscription {
	sub := b.Subscribe()

	// Local -> relay.
	go func() {
		for ev := range sub.events {
			data, err := Encode(ev)
			if err != nil {
				log.Printf("bridge encode: %v", err)
				continue
			}
			select {
			case c.send <- data:
			default:
			}
		}
	}()

	// Relay -> local.
	go func() {
		c.ws.SetReadLimit(maxFrameSize)
		for {
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				return
			}
			ev, err := Decode(data)
			if err != nil {
				log.Printf("bridge decode: %v", err)
				continue
			}
			sub.Publish(ev)
		}
	}()

	return sub
}
