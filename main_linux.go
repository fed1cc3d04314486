//go:build linux

package main

import "os"

func main() {
	if guiRequested(os.Args[1:]) {
		runGUIMain()
		return
	}
	execute()
}
