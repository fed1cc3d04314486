package listener

import (
	"context"
	"errors"
	"sync"

	"zedd/bridge"
	"zedd/log"
	"zedd/recognizer"
)

var ErrRunning = errors.New("listener already running")

type ServiceConfig struct {
	Controller Config
	// AutoStart issues START as soon as the service starts.
	AutoStart bool
}

// Service hosts a Controller in the background listening context. It
// takes START and STOP from the bridge control channel, feeds adapter
// events to the controller, and sends transcript text out on the display
// channel.
type Service struct {
	adapter recognizer.Adapter
	bridge  *bridge.Bridge
	cfg     ServiceConfig

	mu       sync.Mutex
	ctrl     *Controller
	cancel   context.CancelFunc
	pumpDone chan struct{}
}

func NewService(adapter recognizer.Adapter, b *bridge.Bridge, cfg ServiceConfig) *Service {
	return &Service{adapter: adapter, bridge: b, cfg: cfg}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.ctrl != nil {
		s.mu.Unlock()
		return ErrRunning
	}
	ctrl := s.newController(0)
	s.ctrl = ctrl
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.pumpDone = cancel, done
	s.mu.Unlock()

	mode := "manual"
	if s.cfg.AutoStart {
		mode = "auto"
	}
	log.SessionStart(s.adapter.Name(), mode, ctrl.keyword)

	go s.pump(ctx, done)
	s.bridge.Control.SetHandler(s.onControl)
	if s.cfg.AutoStart {
		s.handle(StartCommand())
	}
	return nil
}

// Restart drops the current session as if the host had killed and revived
// the listening context: any attempt is ended and the new controller waits
// idle for the next START.
func (s *Service) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.ctrl
	if old == nil {
		return
	}
	old.Close()
	// attempt ids keep counting so events still queued from the old
	// controller's attempts stay stale
	s.ctrl = s.newController(old.Attempt())
	log.Info("listener restarted")
}

// Stop ends listening for good: the attempt is ended, the backoff timer
// cancelled, the control handler detached, and the adapter closed.
func (s *Service) Stop() {
	s.mu.Lock()
	ctrl, cancel, done := s.ctrl, s.cancel, s.pumpDone
	s.ctrl, s.cancel, s.pumpDone = nil, nil, nil
	s.mu.Unlock()
	if ctrl == nil {
		return
	}

	s.bridge.Control.SetHandler(nil)
	ctrl.Close()
	cancel()
	<-done
	if err := s.adapter.Close(); err != nil {
		log.Warnf("closing %s adapter: %v", s.adapter.Name(), err)
	}
	log.SessionEnd(int(ctrl.Attempt()))
}

// State reports the controller state, Idle when the service is stopped.
func (s *Service) State() State {
	if c := s.controller(); c != nil {
		return c.State()
	}
	return Idle
}

func (s *Service) controller() *Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl
}

func (s *Service) newController(firstAttempt uint64) *Controller {
	cfg := s.cfg.Controller
	cfg.Display = s.display
	c := NewController(s.adapter, cfg)
	c.attempt = firstAttempt
	return c
}

func (s *Service) handle(cmd Command) {
	if c := s.controller(); c != nil {
		c.Handle(cmd)
	}
}

func (s *Service) onControl(call bridge.Call) {
	switch call.Method {
	case bridge.MethodStartListening:
		s.handle(StartCommand())
	case bridge.MethodStopListening:
		s.handle(StopCommand())
	case bridge.MethodUpdateOverlayContent:
		s.handle(UpdateTextCommand(call.Text))
	default:
		log.Warnf("listener: unknown control method %q", call.Method)
	}
}

func (s *Service) display(cmd Command) {
	method := bridge.MethodUpdateOverlayContent
	switch cmd.Result {
	case ResultPartial:
		method = bridge.MethodOnPartialResult
	case ResultFinal:
		method = bridge.MethodOnCommandResult
	}
	s.bridge.Display.Invoke(method, cmd.Text)
}

func (s *Service) pump(ctx context.Context, done chan struct{}) {
	defer close(done)
	events := s.adapter.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if c := s.controller(); c != nil {
				c.OnAdapterEvent(ev)
			}
		}
	}
}
