// Package prng provides the small keyed generator used to derive heap cookies
// and guard keys.
//
// The generator runs the ChaCha20 keystream from a 256-bit key. Unpredictability
// is the goal, not cryptographic strength: a weakly seeded context is usable
// and can be reseeded later once strong entropy is available.
//
// A Context is pointer-free so it can live inside OS-mapped metadata pages.
// It is not safe for concurrent use.
package prng

import (
	"encoding/binary"
	"math"

	"golang.org/x/crypto/chacha20"
)

// Source supplies entropy for seeding.
type Source interface {
	// RandomBytes fills b with strong entropy, reporting false if none is available.
	RandomBytes(b []byte) bool

	// WeakSeed returns a nonzero seed from a cheap entropy source.
	WeakSeed() uint64
}

// Context is the generator state.
type Context struct {
	key     [chacha20.KeySize]byte
	nonce   [chacha20.NonceSize]byte
	counter uint32
	pos     uint8
	weak    bool
	buf     [64]byte
}

// Init seeds ctx from src, falling back to the weak seed when strong entropy
// is unavailable.
func Init(ctx *Context, src Source) {
	*ctx = Context{}
	if !src.RandomBytes(ctx.key[:]) {
		InitWeak(ctx, src.WeakSeed())
		return
	}
	ctx.pos = uint8(len(ctx.buf))
}

// InitWeak seeds ctx by expanding a single word.
func InitWeak(ctx *Context, seed uint64) {
	*ctx = Context{weak: true}
	x := seed
	for i := 0; i < len(ctx.key); i += 8 {
		x = Shuffle(x)
		binary.LittleEndian.PutUint64(ctx.key[i:], x)
	}
	ctx.pos = uint8(len(ctx.buf))
}

// Reseed reinitializes a weakly seeded ctx from strong entropy.
// It reports whether ctx is strongly seeded afterward.
func Reseed(ctx *Context, src Source) bool {
	if !ctx.weak {
		return true
	}
	var key [chacha20.KeySize]byte
	if !src.RandomBytes(key[:]) {
		return false
	}
	*ctx = Context{key: key, pos: uint8(len(ctx.buf))}
	return true
}

// Split initializes child with a key drawn from parent's stream.
// The two streams are independent afterward.
func Split(parent, child *Context) {
	var key [chacha20.KeySize]byte
	for i := 0; i < len(key); i += 8 {
		binary.LittleEndian.PutUint64(key[i:], parent.Next())
	}
	*child = Context{key: key, weak: parent.weak, pos: uint8(len(child.buf))}
}

// Next returns the next word of the stream.
func (ctx *Context) Next() uint64 {
	if int(ctx.pos)+8 > len(ctx.buf) {
		ctx.refill()
	}
	v := binary.LittleEndian.Uint64(ctx.buf[ctx.pos:])
	ctx.pos += 8
	return v
}

// IsWeak reports whether ctx was seeded from the weak source.
func (ctx *Context) IsWeak() bool {
	return ctx.weak
}

func (ctx *Context) refill() {
	if ctx.counter == math.MaxUint32 {
		// rekey before the block counter wraps
		copy(ctx.key[:], ctx.buf[:chacha20.KeySize])
		ctx.counter = 0
	}
	c, err := chacha20.NewUnauthenticatedCipher(ctx.key[:], ctx.nonce[:])
	if err != nil {
		panic(err) // key and nonce sizes are fixed
	}
	c.SetCounter(ctx.counter)
	clear(ctx.buf[:])
	c.XORKeyStream(ctx.buf[:], ctx.buf[:])
	ctx.counter++
	ctx.pos = 0
}

// Shuffle is a cheap bijective mixer for a single word (splitmix64 finalizer).
// Zero maps to a fixed nonzero word.
func Shuffle(x uint64) uint64 {
	if x == 0 {
		x = 17
	}
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
