package hotkey

type FakeHotkey struct {
	keydown    chan struct{}
	keyup      chan struct{}
	registered bool
	failWith   error
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

// FailRegister makes Register return err, as when no keyboard can be opened.
func (f *FakeHotkey) FailRegister(err error) { f.failWith = err }

func (f *FakeHotkey) Register() error {
	if f.failWith != nil {
		return f.failWith
	}
	f.registered = true
	return nil
}

func (f *FakeHotkey) Unregister()              { f.registered = false }
func (f *FakeHotkey) Registered() bool         { return f.registered }
func (f *FakeHotkey) Keydown() <-chan struct{} { return f.keydown }
func (f *FakeHotkey) Keyup() <-chan struct{}   { return f.keyup }

func (f *FakeHotkey) SimKeydown() { f.keydown <- struct{}{} }
func (f *FakeHotkey) SimKeyup()   { f.keyup <- struct{}{} }
