package handle

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/pointstream/errors"
)

type fakeStream struct{ name string }
type fakeWriter struct{ name string }

func TestRegistry_AllocateResolve(t *testing.T) {
	r := NewRegistry()
	s := &fakeStream{name: "s1"}

	h := r.Allocate(KindStream, s)
	require.NotEqual(t, None, h)

	lease, err := r.Resolve(h, KindStream)
	require.NoError(t, err)
	defer lease.Release()

	assert.Same(t, s, lease.Object())
	assert.Equal(t, h, lease.Handle())
}

func TestRegistry_HandlesMonotonic(t *testing.T) {
	r := NewRegistry()

	h1 := r.Allocate(KindStream, &fakeStream{})
	h2 := r.Allocate(KindWriter, &fakeWriter{})
	h3 := r.Allocate(KindStream, &fakeStream{})

	assert.Equal(t, Handle(1), h1, "handles start at 1")
	assert.Greater(t, h2, h1)
	assert.Greater(t, h3, h2)
}

func TestRegistry_HandlesNotReused(t *testing.T) {
	r := NewRegistry()

	h1 := r.Allocate(KindStream, &fakeStream{})
	_, err := r.Retire(h1, KindStream)
	require.NoError(t, err)

	h2 := r.Allocate(KindStream, &fakeStream{})
	assert.NotEqual(t, h1, h2)

	_, err = r.Resolve(h1, KindStream)
	assert.ErrorIs(t, err, errors.ErrInvalidHandle)
}

func TestRegistry_ResolveErrors(t *testing.T) {
	r := NewRegistry()
	h := r.Allocate(KindStream, &fakeStream{})

	tests := []struct {
		name    string
		handle  Handle
		kind    Kind
		wantErr error
	}{
		{"unknown handle", Handle(9999), KindStream, errors.ErrInvalidHandle},
		{"zero handle", None, KindStream, errors.ErrInvalidHandle},
		{"wrong kind", h, KindWriter, errors.ErrWrongKind},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := r.Resolve(test.handle, test.kind)
			assert.ErrorIs(t, err, test.wantErr)
		})
	}
}

func TestRegistry_RetireBlocksResolve(t *testing.T) {
	r := NewRegistry()
	s := &fakeStream{}
	h := r.Allocate(KindStream, s)

	obj, err := r.Retire(h, KindStream)
	require.NoError(t, err)
	assert.Same(t, s, obj)

	_, err = r.Resolve(h, KindStream)
	assert.ErrorIs(t, err, errors.ErrInvalidHandle, "retired entry with no leases is removed")

	_, err = r.Retire(h, KindStream)
	assert.ErrorIs(t, err, errors.ErrInvalidHandle)
}

func TestRegistry_RetireWrongKind(t *testing.T) {
	r := NewRegistry()
	h := r.Allocate(KindWriter, &fakeWriter{})

	_, err := r.Retire(h, KindStream)
	assert.ErrorIs(t, err, errors.ErrWrongKind)

	// The entry survives a wrong-kind retire attempt.
	assert.True(t, r.IsValid(h, KindWriter))
}

func TestRegistry_LeasePinsRetiredEntry(t *testing.T) {
	r := NewRegistry()
	s := &fakeStream{}
	h := r.Allocate(KindStream, s)

	lease, err := r.Resolve(h, KindStream)
	require.NoError(t, err)

	// Retire while the lease is outstanding: new resolutions fail but
	// the lease holder keeps its object.
	_, err = r.Retire(h, KindStream)
	require.NoError(t, err)

	_, err = r.Resolve(h, KindStream)
	assert.ErrorIs(t, err, errors.ErrHandleClosed)
	assert.Same(t, s, lease.Object())

	// Second retire while still leased reports closed, not unknown.
	_, err = r.Retire(h, KindStream)
	assert.ErrorIs(t, err, errors.ErrHandleClosed)

	// Last release removes the entry.
	lease.Release()
	_, err = r.Resolve(h, KindStream)
	assert.ErrorIs(t, err, errors.ErrInvalidHandle)
}

func TestRegistry_LeaseReleaseIdempotent(t *testing.T) {
	r := NewRegistry()
	h := r.Allocate(KindStream, &fakeStream{})

	lease1, err := r.Resolve(h, KindStream)
	require.NoError(t, err)
	lease2, err := r.Resolve(h, KindStream)
	require.NoError(t, err)

	lease1.Release()
	lease1.Release()
	lease1.Release()

	// A double release must not steal lease2's pin.
	_, err = r.Retire(h, KindStream)
	require.NoError(t, err)
	assert.Same(t, lease2.Object(), lease2.Object())

	lease2.Release()
	_, err = r.Resolve(h, KindStream)
	assert.ErrorIs(t, err, errors.ErrInvalidHandle)
}

func TestRegistry_IsValid(t *testing.T) {
	r := NewRegistry()
	h := r.Allocate(KindWriter, &fakeWriter{})

	assert.True(t, r.IsValid(h, KindWriter))
	assert.False(t, r.IsValid(h, KindStream), "kind must match")
	assert.False(t, r.IsValid(None, KindWriter))
	assert.False(t, r.IsValid(Handle(12345), KindWriter))

	_, err := r.Retire(h, KindWriter)
	require.NoError(t, err)
	assert.False(t, r.IsValid(h, KindWriter))
}

func TestRegistry_Count(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, 0, r.Count(KindStream))

	hs := r.Allocate(KindStream, &fakeStream{})
	r.Allocate(KindWriter, &fakeWriter{})
	r.Allocate(KindWriter, &fakeWriter{})

	assert.Equal(t, 1, r.Count(KindStream))
	assert.Equal(t, 2, r.Count(KindWriter))

	_, err := r.Retire(hs, KindStream)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Count(KindStream))
	assert.Equal(t, 2, r.Count(KindWriter))
}

func TestRegistry_CountIncludesLeasedRetired(t *testing.T) {
	r := NewRegistry()
	h := r.Allocate(KindWriter, &fakeWriter{})

	lease, err := r.Resolve(h, KindWriter)
	require.NoError(t, err)
	_, err = r.Retire(h, KindWriter)
	require.NoError(t, err)

	assert.Equal(t, 1, r.Count(KindWriter), "retired entry pinned by a lease still counts")
	lease.Release()
	assert.Equal(t, 0, r.Count(KindWriter))
}

func TestRegistry_ConcurrentAllocate(t *testing.T) {
	r := NewRegistry()

	const n = 100
	var wg sync.WaitGroup
	handles := make([]Handle, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handles[i] = r.Allocate(KindWriter, &fakeWriter{})
		}(i)
	}
	wg.Wait()

	seen := make(map[Handle]bool, n)
	for _, h := range handles {
		require.NotEqual(t, None, h)
		require.False(t, seen[h], "handle %d allocated twice", h)
		seen[h] = true
	}
	assert.Equal(t, n, r.Count(KindWriter))
}

func TestRegistry_ConcurrentResolveRetire(t *testing.T) {
	r := NewRegistry()
	h := r.Allocate(KindStream, &fakeStream{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := r.Resolve(h, KindStream)
			if err == nil {
				lease.Release()
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.Retire(h, KindStream)
	}()
	wg.Wait()

	// Whatever the interleaving, the entry must be gone afterwards.
	_, err := r.Resolve(h, KindStream)
	assert.Error(t, err)
	assert.Equal(t, 0, r.Count(KindStream))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "stream", KindStream.String())
	assert.Equal(t, "writer", KindWriter.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
