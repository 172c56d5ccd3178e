package guard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(1000)
	require.NoError(t, err)
	return s
}

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }

// errStore fails every operation.
type errStore struct{ err error }

func (s errStore) Update(context.Context, string, time.Duration, UpdateFunc) error { return s.err }
func (s errStore) Get(context.Context, string) ([]byte, bool, error) { return nil, false, s.err }
func (s errStore) Delete(context.Context, string) error { return s.err }
func (s errStore) Scan(context.Context, string, func(string, []byte) bool) error { return s.err }
func (s errStore) Sweep(context.Context) (int, error) { return 0, s.err }
