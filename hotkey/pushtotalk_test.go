package hotkey

import (
	"context"
	"testing"
	"time"
)

func waitEdge(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func startPTT(t *testing.T) (*FakeHotkey, <-chan string, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	fk := NewFake()
	edges := make(chan string, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		PushToTalk(ctx, fk,
			func() { edges <- "press" },
			func() { edges <- "release" })
	}()
	return fk, edges, cancel, done
}

func TestPushToTalkPressRelease(t *testing.T) {
	fk, edges, cancel, done := startPTT(t)
	defer func() { cancel(); <-done }()

	fk.SimKeydown()
	waitEdge(t, edges, "press")
	fk.SimKeyup()
	waitEdge(t, edges, "release")
	fk.SimKeydown()
	waitEdge(t, edges, "press")
	fk.SimKeyup()
	waitEdge(t, edges, "release")
}

func TestPushToTalkIgnoresUnpairedEdges(t *testing.T) {
	fk, edges, cancel, done := startPTT(t)
	defer func() { cancel(); <-done }()

	// the fake's channels are separate, so let each edge drain before the next
	settle := func() { time.Sleep(20 * time.Millisecond) }

	fk.SimKeyup() // nothing held
	settle()
	fk.SimKeydown()
	waitEdge(t, edges, "press")
	fk.SimKeydown() // auto-repeat
	settle()
	fk.SimKeyup()
	waitEdge(t, edges, "release")

	select {
	case e := <-edges:
		t.Fatalf("unexpected edge %s", e)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPushToTalkReleasesOnCancel(t *testing.T) {
	fk, edges, cancel, done := startPTT(t)
	fk.SimKeydown()
	waitEdge(t, edges, "press")
	cancel()
	<-done
	waitEdge(t, edges, "release")
}

func TestFakeRegister(t *testing.T) {
	fk := NewFake()
	if err := fk.Register(); err != nil || !fk.Registered() {
		t.Fatalf("register: %v", err)
	}
	fk.Unregister()
	if fk.Registered() {
		t.Fatal("still registered")
	}
}
