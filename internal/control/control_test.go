package control

import "testing"

func TestAdvisoryPause_PauseAndResume(t *testing.T) {
	var p AdvisoryPause
	if p.Paused() {
		t.Fatal("expected unpaused by default")
	}
	p.Pause()
	if !p.Paused() {
		t.Fatal("expected paused after Pause")
	}
	p.Resume()
	if p.Paused() {
		t.Fatal("expected unpaused after Resume")
	}
}

type fakeChecker bool

func (f fakeChecker) Paused() bool { return bool(f) }

func TestCombined_TrueIfAnySourcePaused(t *testing.T) {
	c := Combine(fakeChecker(false), fakeChecker(false))
	if c.Paused() {
		t.Fatal("expected false when no source paused")
	}

	c = Combine(fakeChecker(false), fakeChecker(true))
	if !c.Paused() {
		t.Fatal("expected true when one source paused")
	}
}

func TestCombined_NilCheckersIgnored(t *testing.T) {
	c := Combine(nil, fakeChecker(false))
	if c.Paused() {
		t.Fatal("expected false")
	}
}
