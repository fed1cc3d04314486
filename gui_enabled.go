//go:build gui

package main

import (
	"runtime"

	"zedd/overlay"
)

// windows hands overlay windows to the main thread, which fyne needs.
var windows = make(chan *windowView)

type windowView struct {
	*overlay.Window
	closed chan struct{}
}

func (v *windowView) Run() error {
	windows <- v
	<-v.closed
	return nil
}

func newWindowView(s *overlay.Surface) (view, error) {
	return &windowView{Window: overlay.NewWindow(s), closed: make(chan struct{})}, nil
}

// runGUIMain keeps the main thread for the window event loop and runs the
// command in a goroutine.
func runGUIMain() {
	runtime.LockOSThread()
	done := make(chan struct{})
	go func() {
		defer close(done)
		execute()
	}()
	select {
	case v := <-windows:
		v.Window.Run()
		close(v.closed)
		<-done
	case <-done:
	}
}
