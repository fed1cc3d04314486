//go:build !gui

package main

import (
	"errors"

	"zedd/overlay"
)

var errNoGUI = errors.New("built without GUI support (rebuild with -tags gui)")

func newWindowView(*overlay.Surface) (view, error) {
	return nil, errNoGUI
}

func runGUIMain() {
	execute()
}
