package proxy

import (
	"testing"

	"github.com/shepsii/dbproxies/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	fake := newFake(t)
	factory := func(s *storage.Schema) (storage.Backend, error) { return fake, nil }

	r := NewRegistry(nil)
	require.NoError(t, r.Register(Candidate{Name: "offline", Supported: func() bool { return false }, Factory: factory}))
	require.NoError(t, r.Register(Candidate{Name: "fake", Factory: factory}))
	assert.ErrorIs(t, r.Register(Candidate{Name: "fake", Factory: factory}), ErrDuplicateCandidate)
	assert.ErrorIs(t, r.Register(Candidate{Name: "nofactory"}), ErrInvalidCandidate)
	assert.Equal(t, []string{"offline", "fake"}, r.Names())

	backend, name, err := r.Resolve(fake.schema, "unknown", "offline", "fake")
	require.NoError(t, err)
	assert.Equal(t, "fake", name)
	assert.Same(t, fake, backend)

	_, name, err = r.Resolve(fake.schema)
	require.NoError(t, err)
	assert.Equal(t, "fake", name)

	_, _, err = r.Resolve(fake.schema, "offline", "unknown")
	assert.ErrorIs(t, err, ErrNoSupportedBackend)
}
