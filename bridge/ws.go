package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"

	"zedd/log"
)

const writeTimeout = 5 * time.Second

// frame is the JSON wire form of a Call on a websocket link.
type frame struct {
	Channel string `json:"channel"`
	Method  string `json:"method"`
	Text    string `json:"text,omitempty"`
}

// Link carries one channel of a local Bridge out over a websocket and
// injects the peer's calls into the other channel.
type Link struct {
	ID string

	conn *websocket.Conn
	out  *Channel
	in   *Channel

	done      chan struct{}
	err       error
	closing   atomic.Bool
	closeOnce sync.Once
}

func newLink(conn *websocket.Conn, out, in *Channel) *Link {
	return &Link{
		ID:   xid.New().String(),
		conn: conn,
		out:  out,
		in:   in,
		done: make(chan struct{}),
	}
}

func (l *Link) Done() <-chan struct{} { return l.done }

// Err returns why the link ended. Valid after Done is closed.
func (l *Link) Err() error { return l.err }

func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closing.Store(true)
		l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		l.conn.Close()
	})
	return nil
}

func (l *Link) forward(call Call) {
	l.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err := l.conn.WriteJSON(frame{Channel: l.out.Kind(), Method: call.Method, Text: call.Text})
	if err != nil {
		log.Debugf("bridge link %s: write %s: %v", l.ID, call.Method, err)
	}
}

func (l *Link) run(ctx context.Context) {
	defer close(l.done)
	log.BridgeLink(l.ID, "open")
	l.out.attach(l.ID, l.forward)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			l.Close()
		case <-stop:
		}
	}()

	for {
		var f frame
		if err := l.conn.ReadJSON(&f); err != nil {
			l.out.detach(l.ID)
			local := l.closing.Load()
			l.Close()
			if local || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			l.err = err
			log.BridgeLink(l.ID, "closed")
			return
		}
		if f.Channel != l.in.Kind() {
			log.Debugf("bridge link %s: ignoring %s call %s", l.ID, f.Channel, f.Method)
			continue
		}
		l.in.Send(Call{Method: f.Method, Text: f.Text})
	}
}

// Server accepts overlay links on the listener side: the display channel
// goes out, control calls come in. The newest link owns the display channel.
type Server struct {
	bridge   *Bridge
	upgrader websocket.Upgrader

	mu     sync.Mutex
	links  map[string]*Link
	closed bool
}

func Serve(b *Bridge) *Server {
	// the zero Upgrader rejects browser pages from other origins; overlays
	// dialing with Dial send no Origin header
	return &Server{
		bridge: b,
		links:  make(map[string]*Link),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("bridge upgrade: %v", err)
		return
	}
	l := newLink(conn, s.bridge.Display, s.bridge.Control)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return
	}
	s.links[l.ID] = l
	s.mu.Unlock()

	l.run(r.Context())

	s.mu.Lock()
	delete(s.links, l.ID)
	s.mu.Unlock()
}

// Links returns the number of connected overlays.
func (s *Server) Links() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.links)
}

// Close disconnects every link and refuses new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	links := make([]*Link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.mu.Unlock()
	for _, l := range links {
		l.Close()
		<-l.Done()
	}
}

var ErrDial = errors.New("bridge dial failed")

// Dial connects the overlay side of b to a listener: control calls go out,
// display calls come in.
func Dial(ctx context.Context, url string, b *Bridge) (*Link, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDial, url, err)
	}
	l := newLink(conn, b.Control, b.Display)
	go l.run(context.WithoutCancel(ctx))
	return l, nil
}
