package overlay

import (
	"fmt"
	"io"
	"sync"
)

// PrintText writes a "text: <text>" line to w for every text change on s.
// Used when no terminal UI is running.
func PrintText(w io.Writer, s *Surface) {
	var mu sync.Mutex
	s.OnChange(func(text string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "text: %s\n", text)
	})
}
