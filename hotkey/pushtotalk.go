package hotkey

import "context"

// PushToTalk turns chord edges into press and release calls: press on
// keydown, release on the matching keyup. A keyup with no press before it
// is ignored, as is a repeated keydown while held.
func PushToTalk(ctx context.Context, hk Hotkey, press, release func()) {
	held := false
	for {
		select {
		case <-ctx.Done():
			if held {
				release()
			}
			return
		case <-hk.Keydown():
			if !held {
				held = true
				press()
			}
		case <-hk.Keyup():
			if held {
				held = false
				release()
			}
		}
	}
}
