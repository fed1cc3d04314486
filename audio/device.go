package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

var ErrSelectionAborted = errors.New("device selection aborted")

type pickerAction int

const (
	pickerMove pickerAction = iota
	pickerConfirm
	pickerAbort
)

// pickerKey applies one raw keypress to the cursor.
func pickerKey(cursor, n int, key []byte) (int, pickerAction) {
	if len(key) == 1 {
		switch key[0] {
		case '\r', '\n':
			return cursor, pickerConfirm
		case 3, 'q': // Ctrl+C
			return cursor, pickerAbort
		case 'j':
			key = []byte{0x1b, '[', 'B'}
		case 'k':
			key = []byte{0x1b, '[', 'A'}
		}
	}
	if len(key) == 3 && key[0] == 0x1b && key[1] == '[' {
		switch key[2] {
		case 'A':
			if cursor > 0 {
				cursor--
			}
		case 'B':
			if cursor < n-1 {
				cursor++
			}
		}
	}
	return cursor, pickerMove
}

func renderPicker(w io.Writer, devices []DeviceInfo, cursor int) {
	fmt.Fprint(w, "\r\x1b[J")
	fmt.Fprint(w, "Select microphone (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range devices {
		btTag := ""
		if IsBluetooth(d.Name) {
			btTag = " \x1b[33m[bluetooth: lower quality]\x1b[0m"
		}
		if i == cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, btTag)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, btTag)
		}
	}
}

// SelectDevice presents an interactive device picker and returns the selected device.
// If only one device is available, it returns that device without prompting.
func SelectDevice(ctx Context) (*DeviceInfo, error) {
	devices, err := ctx.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, ErrDeviceNotFound
	case 1:
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("device picker needs a terminal; pass --device instead")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	cursor := 0
	renderPicker(os.Stdout, devices, cursor)

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		var action pickerAction
		cursor, action = pickerKey(cursor, len(devices), buf[:n])
		switch action {
		case pickerConfirm:
			fmt.Print("\r\n")
			return &devices[cursor], nil
		case pickerAbort:
			fmt.Print("\r\n")
			return nil, ErrSelectionAborted
		}
		fmt.Printf("\x1b[%dA", len(devices)+2)
		renderPicker(os.Stdout, devices, cursor)
	}
}
