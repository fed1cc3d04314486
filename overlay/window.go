//go:build gui

package overlay

import (
	"image/color"
	"sync"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/widget"
	"github.com/go-gl/glfw/v3.3/glfw"
)

const minWindowHeight = 120

var (
	boxIdleColor      = color.RGBA{30, 30, 30, 230}
	boxListeningColor = color.RGBA{90, 0, 0, 230}
	titleIdleColor    = color.RGBA{160, 160, 160, 255}
	titleActiveColor  = color.RGBA{255, 60, 60, 255}
)

// controlBox is the pressable region of the overlay window. Holding the
// mouse button on it keeps the surface pressed. Methods without a lock run
// on the fyne event loop.
type controlBox struct {
	widget.BaseWidget
	surface *Surface

	bg     *canvas.Rectangle
	title  *canvas.Text
	status *canvas.Text
	text   *widget.Label

	pressed   bool
	listening bool
	tracked   bool
}

func newControlBox(s *Surface) *controlBox {
	b := &controlBox{
		surface: s,
		bg:      canvas.NewRectangle(boxIdleColor),
		title:   canvas.NewText("○ idle", titleIdleColor),
		status:  canvas.NewText("", titleIdleColor),
		text:    widget.NewLabel(s.Text()),
	}
	b.title.TextStyle = fyne.TextStyle{Bold: true}
	b.text.Wrapping = fyne.TextWrapWord
	b.ExtendBaseWidget(b)
	return b
}

func (b *controlBox) CreateRenderer() fyne.WidgetRenderer {
	header := container.NewHBox(b.title, b.status)
	content := container.NewBorder(header, nil, nil, nil, b.text)
	return widget.NewSimpleRenderer(container.NewStack(b.bg, container.NewPadded(content)))
}

func (b *controlBox) MouseDown(*desktop.MouseEvent) { b.press() }

func (b *controlBox) MouseUp(*desktop.MouseEvent) { b.release() }

func (b *controlBox) press() {
	if b.pressed {
		return
	}
	b.pressed = true
	b.surface.Press()
	b.refresh()
}

func (b *controlBox) release() {
	if !b.pressed {
		return
	}
	b.pressed = false
	b.surface.Release()
	b.refresh()
}

func (b *controlBox) toggle() {
	if b.pressed {
		b.release()
	} else {
		b.press()
	}
}

func (b *controlBox) setListening(on bool) {
	b.listening, b.tracked = on, true
	b.refresh()
}

func (b *controlBox) refresh() {
	listening := b.pressed
	if b.tracked {
		listening = b.listening
	}
	if listening {
		b.title.Text, b.title.Color = "● listening", titleActiveColor
		b.bg.FillColor = boxListeningColor
	} else {
		b.title.Text, b.title.Color = "○ idle", titleIdleColor
		b.bg.FillColor = boxIdleColor
	}
	b.title.Refresh()
	b.bg.Refresh()
}

// Window shows a Surface as a floating window across the bottom fifth of
// the primary screen.
type Window struct {
	app fyne.App
	win fyne.Window
	box *controlBox

	quitOnce sync.Once
}

func NewWindow(s *Surface) *Window {
	return newWindow(app.NewWithID("io.zedd.overlay"), s)
}

func newWindow(a fyne.App, s *Surface) *Window {
	var win fyne.Window
	if drv, ok := a.Driver().(desktop.Driver); ok {
		win = drv.CreateSplashWindow()
	} else {
		win = a.NewWindow("zedd")
	}
	w := &Window{app: a, win: win, box: newControlBox(s)}
	win.SetContent(w.box)
	win.SetPadded(false)
	win.Canvas().SetOnTypedKey(func(ev *fyne.KeyEvent) {
		switch ev.Name {
		case fyne.KeySpace:
			w.box.toggle()
		case fyne.KeyQ, fyne.KeyEscape:
			w.box.release()
			w.Quit()
		}
	})
	s.OnChange(func(text string) {
		fyne.Do(func() { w.box.text.SetText(text) })
	})
	return w
}

// Press and Release come from the global hotkey.
func (w *Window) Press()   { fyne.Do(w.box.press) }
func (w *Window) Release() { fyne.Do(w.box.release) }

func (w *Window) SetStatus(text string) {
	fyne.Do(func() {
		w.box.status.Text = text
		w.box.status.Refresh()
	})
}

func (w *Window) SetListening(on bool) {
	fyne.Do(func() { w.box.setListening(on) })
}

// Run shows the window and blocks until Quit. It must be called on the
// main thread.
func (w *Window) Run() error {
	w.app.Lifecycle().SetOnStarted(w.place)
	w.app.Run()
	return nil
}

func (w *Window) Quit() {
	w.quitOnce.Do(w.app.Quit)
}

// place sizes the window to the bottom fifth of the primary monitor's work
// area and keeps it above other windows without taking focus.
func (w *Window) place() {
	x, y, screenW, screenH := 0, 0, 1920, 1080
	if monitor := glfw.GetPrimaryMonitor(); monitor != nil {
		x, y, screenW, screenH = monitor.GetWorkarea()
	}
	top, height := bottomFifth(screenH, minWindowHeight)
	w.win.Resize(fyne.NewSize(float32(screenW), float32(height)))
	w.win.Show()

	if glfwWin := glfw.GetCurrentContext(); glfwWin != nil {
		glfwWin.SetAttrib(glfw.FocusOnShow, glfw.False)
		glfwWin.SetAttrib(glfw.Floating, glfw.True)
		glfwWin.SetPos(x, y+top)
	}
}
