package jobserver

import (
	"os"
	"runtime"
	"testing"

	"github.com/gup-build/gup/internal/envproto"
)

func TestNewSerialWhenCapacityIsOne(t *testing.T) {
	os.Unsetenv(envproto.Makeflags)
	js, err := New(1, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer js.Close()

	if js.mode != Serial {
		t.Fatalf("mode = %v, want Serial", js.mode)
	}
	env, ok := js.Env()
	if !ok || env != "0" {
		t.Errorf("Env() = (%q, %v), want (\"0\", true)", env, ok)
	}
	if js.Capacity() != 1 {
		t.Errorf("Capacity() = %d, want 1", js.Capacity())
	}
}

func TestSerialAcquireReleaseNeverBlocks(t *testing.T) {
	os.Unsetenv(envproto.Makeflags)
	js, err := New(1, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer js.Close()

	for i := 0; i < 3; i++ {
		tok, err := js.Acquire()
		if err != nil {
			t.Fatal(err)
		}
		if err := tok.Release(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestOwnedModeRoundTrip(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("owned mode is disabled on windows")
	}
	os.Unsetenv(envproto.Makeflags)

	const capacity = 3
	js, err := New(capacity, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer js.Close()

	if js.mode != Owned {
		t.Fatalf("mode = %v, want Owned", js.mode)
	}
	if js.Capacity() != capacity {
		t.Errorf("Capacity() = %d, want %d", js.Capacity(), capacity)
	}

	// capacity-1 tokens are available up front (this process holds the
	// implicit one), so exactly capacity-1 Acquire calls must succeed
	// without blocking.
	tokens := make([]*Token, 0, capacity-1)
	for i := 0; i < capacity-1; i++ {
		tok, err := js.Acquire()
		if err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
		tokens = append(tokens, tok)
	}

	for _, tok := range tokens {
		if err := tok.Release(); err != nil {
			t.Fatal(err)
		}
	}

	// Releasing should make the tokens acquirable again.
	for i := 0; i < capacity-1; i++ {
		tok, err := js.Acquire()
		if err != nil {
			t.Fatalf("re-acquire %d: %v", i, err)
		}
		if err := tok.Release(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestParseInheritedMakeflagsFds(t *testing.T) {
	t.Setenv(envproto.Makeflags, "-j4 --jobserver-fds=3,4 -- first second")
	r, w, raw, ok := parseInheritedMakeflags()
	if !ok {
		t.Fatal("expected ok=true")
	}
	if r != "3" || w != "4" {
		t.Errorf("r=%q w=%q, want 3,4", r, w)
	}
	if raw == "" {
		t.Error("expected the raw MAKEFLAGS value to be preserved")
	}
}

func TestParseInheritedMakeflagsAuth(t *testing.T) {
	t.Setenv(envproto.Makeflags, "--jobserver-auth=/tmp/x.r,/tmp/x.w")
	r, w, _, ok := parseInheritedMakeflags()
	if !ok {
		t.Fatal("expected ok=true")
	}
	if r != "/tmp/x.r" || w != "/tmp/x.w" {
		t.Errorf("r=%q w=%q", r, w)
	}
}

func TestParseInheritedMakeflagsAbsent(t *testing.T) {
	os.Unsetenv(envproto.Makeflags)
	_, _, _, ok := parseInheritedMakeflags()
	if ok {
		t.Error("expected ok=false with no MAKEFLAGS set")
	}
}

func TestParseInheritedMakeflagsWithoutJobserver(t *testing.T) {
	t.Setenv(envproto.Makeflags, "-j4 -- first second")
	_, _, _, ok := parseInheritedMakeflags()
	if ok {
		t.Error("expected ok=false when MAKEFLAGS carries no jobserver directive")
	}
}
