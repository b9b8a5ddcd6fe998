package watermark

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestTracker(store Store) *Tracker {
	tr := NewTracker(store, "", 0)
	tr.now = func() time.Time { return fixedNow }
	return tr
}

type failingStore struct {
	loadErr error
	swapErr error
}

func (f *failingStore) Load(context.Context, string) (*State, error) { return nil, f.loadErr }

func (f *failingStore) CompareAndSwap(context.Context, int64, State) error { return f.swapErr }

func ptr[T any](v T) *T { return &v }

func TestReadState_DefaultWhenMissing(t *testing.T) {
	tr := newTestTracker(NewMemoryStore())

	st := tr.ReadState(context.Background())
	assert.Equal(t, DefaultStateID, st.ID)
	assert.Equal(t, int64(0), st.Version)
	assert.Equal(t, int64(0), st.TotalRecordsExtracted)
	assert.Equal(t, fixedNow.Add(-7*24*time.Hour), st.LastExtractionTime)
}

func TestReadState_DefaultWhenBackendFails(t *testing.T) {
	tr := newTestTracker(&failingStore{loadErr: errors.New("connection refused")})

	st := tr.ReadState(context.Background())
	assert.Equal(t, int64(0), st.Version)
	assert.Equal(t, fixedNow.Add(-DefaultLookback), st.LastExtractionTime)
}

func TestUpdateState_CreatesThenAdvances(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tr := newTestTracker(store)

	end := fixedNow
	ok := tr.UpdateState(ctx, 0, Update{LastExtractionTime: &end, TotalRecordsExtracted: ptr(int64(1200))})
	require.True(t, ok)

	st := tr.ReadState(ctx)
	assert.Equal(t, int64(1), st.Version)
	assert.Equal(t, int64(1200), st.TotalRecordsExtracted)
	assert.Equal(t, end, st.LastExtractionTime)

	later := end.Add(time.Hour)
	ok = tr.UpdateState(ctx, 1, Update{LastExtractionTime: &later})
	require.True(t, ok)

	st = tr.ReadState(ctx)
	assert.Equal(t, int64(2), st.Version)
	assert.Equal(t, int64(1200), st.TotalRecordsExtracted, "unset fields keep their value")
	assert.Equal(t, later, st.LastExtractionTime)
}

func TestUpdateState_StaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	tr := newTestTracker(NewMemoryStore())

	require.True(t, tr.UpdateState(ctx, 0, Update{TotalRecordsExtracted: ptr(int64(10))}))
	require.True(t, tr.UpdateState(ctx, 1, Update{TotalRecordsExtracted: ptr(int64(20))}))

	assert.False(t, tr.UpdateState(ctx, 1, Update{TotalRecordsExtracted: ptr(int64(99))}))
	assert.False(t, tr.UpdateState(ctx, 0, Update{TotalRecordsExtracted: ptr(int64(99))}))

	st := tr.ReadState(ctx)
	assert.Equal(t, int64(2), st.Version)
	assert.Equal(t, int64(20), st.TotalRecordsExtracted)
}

func TestUpdateState_WriteFailureReturnsFalse(t *testing.T) {
	tr := newTestTracker(&failingStore{
		loadErr: ErrNotFound,
		swapErr: errors.New("throttled"),
	})
	assert.False(t, tr.UpdateState(context.Background(), 0, Update{}))
}

// flakyLoadStore fails Load while loadErr is set and otherwise defers to a
// MemoryStore.
type flakyLoadStore struct {
	*MemoryStore
	loadErr error
}

func (f *flakyLoadStore) Load(ctx context.Context, id string) (*State, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.MemoryStore.Load(ctx, id)
}

func TestUpdateState_ReReadFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	store := &flakyLoadStore{MemoryStore: NewMemoryStore()}
	tr := newTestTracker(store)

	require.True(t, tr.UpdateState(ctx, 0, Update{TotalRecordsExtracted: ptr(int64(50))}))

	tr.now = func() time.Time { return fixedNow.Add(24 * time.Hour) }
	store.loadErr = errors.New("i/o timeout")
	assert.False(t, tr.UpdateState(ctx, 1, Update{TotalRecordsExtracted: ptr(int64(80))}))

	store.loadErr = nil
	st := tr.ReadState(ctx)
	assert.Equal(t, int64(1), st.Version)
	assert.Equal(t, int64(50), st.TotalRecordsExtracted)
	assert.Equal(t, fixedNow, st.CreatedAt)

	require.True(t, tr.UpdateState(ctx, 1, Update{TotalRecordsExtracted: ptr(int64(80))}))
	st = tr.ReadState(ctx)
	assert.Equal(t, int64(2), st.Version)
	assert.Equal(t, fixedNow, st.CreatedAt, "creation time survives later updates")
	assert.Equal(t, fixedNow.Add(24*time.Hour), st.UpdatedAt)
}

func TestUpdateState_ConcurrentExactlyOneWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tr := newTestTracker(store)
	require.True(t, tr.UpdateState(ctx, 0, Update{}))

	const writers = 8
	var wg sync.WaitGroup
	results := make([]bool, writers)
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			total := int64(i)
			results[i] = tr.UpdateState(ctx, 1, Update{TotalRecordsExtracted: &total})
		}()
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, int64(2), tr.ReadState(ctx).Version)
}

func TestMemoryStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.Load(ctx, "x")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, s.CompareAndSwap(ctx, 0, State{ID: "x", Version: 1}))
	err = s.CompareAndSwap(ctx, 0, State{ID: "x", Version: 1})
	assert.True(t, errors.Is(err, ErrVersionConflict))

	require.NoError(t, s.CompareAndSwap(ctx, 1, State{ID: "x", Version: 2}))
	st, err := s.Load(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Version)
}
