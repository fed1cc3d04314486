//go:build !linux

package main

import (
	"os"
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	runtime.LockOSThread()
}

// The global hotkey needs the main thread on macOS and Windows. The window
// overlay takes it instead when --gui is given.
func main() {
	if guiRequested(os.Args[1:]) {
		runGUIMain()
		return
	}
	mainthread.Init(execute)
}
