package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckoutReturnExhaustion(t *testing.T) {
	p, err := NewPool(2, 4096, 4096)
	require.NoError(t, err)
	defer p.Close()

	a, err := p.Checkout()
	require.NoError(t, err)
	b, err := p.Checkout()
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	_, err = p.Checkout()
	require.ErrorIs(t, err, ErrExhausted)

	p.Return(a)
	c, err := p.Checkout()
	require.NoError(t, err)
	require.Equal(t, a, c)
}

func TestAlignment(t *testing.T) {
	p, err := NewPool(8, 512, 4096)
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < p.Count(); i++ {
		require.Equal(t, uintptr(0), p.Address(i)%uintptr(p.Alignment()))
	}
}

func TestFillVerifyRoundTrip(t *testing.T) {
	p, err := NewPool(1, 4096, 512)
	require.NoError(t, err)
	defer p.Close()

	idx, err := p.Checkout()
	require.NoError(t, err)
	buf := p.Buffer(idx)

	Fill(buf, LCGRandom, 42)
	require.Equal(t, -1, Verify(buf, LCGRandom, 42))
}

func TestVerifyDetectsFirstMismatch(t *testing.T) {
	buf := make([]byte, 16)
	Fill(buf, Zeros, 0)
	buf[5] = 1

	require.Equal(t, 5, Verify(buf, Zeros, 0))
}

func TestSequentialPatternIsFileOffsetRelative(t *testing.T) {
	buf := make([]byte, 8)
	Fill(buf, Sequential, 250)

	require.Equal(t, byte(250%256), buf[0])
	require.Equal(t, byte(251%256), buf[1])
	require.Equal(t, byte((250+7)%256), buf[7])
}

func TestLCGSequenceIsDeterministic(t *testing.T) {
	a := make([]byte, 32)
	b := make([]byte, 32)
	Fill(a, LCGRandom, 7)
	Fill(b, LCGRandom, 7)

	require.Equal(t, a, b)
}
