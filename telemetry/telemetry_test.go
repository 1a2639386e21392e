package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"flowcam/video/process"
)

type memStore struct {
	l       sync.Mutex
	inserts [][]FlowRecord
	err     error
}

func (m *memStore) Insert(_ context.Context, records []FlowRecord) error {
	m.l.Lock()
	defer m.l.Unlock()
	if m.err != nil {
		return m.err
	}
	m.inserts = append(m.inserts, append([]FlowRecord(nil), records...))
	return nil
}

func (m *memStore) Recent(context.Context, string, int) ([]FlowRecord, error) {
	return nil, nil
}

func (m *memStore) Close() error {
	return nil
}

func (m *memStore) frames() [][]uint64 {
	m.l.Lock()
	defer m.l.Unlock()
	var out [][]uint64
	for _, b := range m.inserts {
		var f []uint64
		for _, r := range b {
			f = append(f, r.Frame)
		}
		out = append(out, f)
	}
	return out
}

func TestRecorderDecimatesAndBatches(t *testing.T) {
	ctx := context.Background()
	st := &memStore{}
	r := NewRecorder(st, RecorderOptions{Every: 3, BatchSize: 2})
	assert.Len(t, r.Session, 36)

	for i := uint64(0); i < 10; i++ {
		require.NoError(t, r.Observe(ctx, process.MotionSample{Frame: i}))
	}
	assert.Equal(t, [][]uint64{{0, 3}, {6, 9}}, st.frames())
	assert.Equal(t, uint64(4), r.Written())

	for i := uint64(10); i < 13; i++ {
		require.NoError(t, r.Observe(ctx, process.MotionSample{Frame: i}))
	}
	assert.Len(t, st.frames(), 2)
	require.NoError(t, r.Flush(ctx))
	require.NoError(t, r.Flush(ctx))
	assert.Equal(t, [][]uint64{{0, 3}, {6, 9}, {12}}, st.frames())

	for _, b := range st.inserts {
		for _, rec := range b {
			assert.Equal(t, r.Session, rec.Session)
		}
	}
}

func TestRecorderKeepsBatchOnFailure(t *testing.T) {
	ctx := context.Background()
	st := &memStore{err: errors.New("db down")}
	r := NewRecorder(st, RecorderOptions{BatchSize: 2})

	assert.NoError(t, r.Observe(ctx, process.MotionSample{Frame: 1}))
	assert.Error(t, r.Observe(ctx, process.MotionSample{Frame: 2}))

	st.err = nil
	require.NoError(t, r.Flush(ctx))
	assert.Equal(t, [][]uint64{{1, 2}}, st.frames())

	// A long outage drops what piled up.
	st.err = errors.New("db down")
	for i := 0; i < maxPendingBatches*2; i++ {
		r.Observe(ctx, process.MotionSample{Frame: uint64(i)})
	}
	st.err = nil
	require.NoError(t, r.Flush(ctx))
	assert.Len(t, st.frames(), 1)
}

func TestRecorderRunFlushesOnClose(t *testing.T) {
	st := &memStore{}
	r := NewRecorder(st, RecorderOptions{BatchSize: 100, FlushInterval: time.Hour})
	c := make(chan process.MotionSample)
	done := make(chan bool)
	go func() {
		r.Run(context.Background(), c)
		done <- true
	}()
	c <- process.MotionSample{Frame: 1}
	c <- process.MotionSample{Frame: 2}
	close(c)
	<-done
	assert.Equal(t, [][]uint64{{1, 2}}, st.frames())
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "flow.db"))
	require.NoError(t, err)
	defer st.Close()

	t0 := time.Unix(1700000000, 123456789)
	var want []FlowRecord
	for i := 0; i < 5; i++ {
		rec := NewFlowRecord("a", process.MotionSample{
			Frame:    uint64(i),
			Hx:       float32(i),
			Hy:       -float32(i),
			OutputHx: 3,
			OutputHy: 4,
			Time:     t0.Add(time.Duration(i) * time.Second),
		})
		want = append(want, rec)
	}
	require.NoError(t, st.Insert(ctx, want))
	require.NoError(t, st.Insert(ctx, []FlowRecord{NewFlowRecord("b", process.MotionSample{Frame: 99})}))
	require.NoError(t, st.Insert(ctx, nil))

	got, err := st.Recent(ctx, "a", 3)
	require.NoError(t, err)
	opts := []cmp.Option{
		cmpopts.IgnoreFields(FlowRecord{}, "ID"),
		cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) }),
	}
	if diff := cmp.Diff(want[2:], got, opts...); diff != "" {
		t.Errorf("Recent mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 5.0, got[0].Magnitude)

	got, err = st.Recent(ctx, "b", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(99), got[0].Frame)
}

func TestGormStore(t *testing.T) {
	ctx := context.Background()
	conn, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	db, err := gorm.Open(sqlite.Dialector{Conn: conn}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	st, err := NewGormStore(db)
	require.NoError(t, err)
	defer st.Close()

	var recs []FlowRecord
	for i := 0; i < 250; i++ {
		recs = append(recs, NewFlowRecord("a", process.MotionSample{Frame: uint64(i), OutputHx: 3, OutputHy: 4}))
	}
	require.NoError(t, st.Insert(ctx, recs))
	require.NoError(t, st.Insert(ctx, []FlowRecord{NewFlowRecord("b", process.MotionSample{Frame: 999})}))

	got, err := st.Recent(ctx, "a", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, r := range got {
		assert.Equal(t, uint64(247+i), r.Frame)
		assert.Equal(t, 5.0, r.Magnitude)
	}
}

func TestSQLiteStoreSharesGorm(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "flow.db"))
	require.NoError(t, err)
	defer st.Close()

	type note struct {
		ID   uint
		Text string
	}
	db, err := st.Gorm()
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&note{}))
	require.NoError(t, db.Create(&note{Text: "hello"}).Error)

	var n note
	require.NoError(t, db.First(&n).Error)
	assert.Equal(t, "hello", n.Text)
	// The store keeps working on the same connection.
	require.NoError(t, st.Insert(context.Background(), []FlowRecord{NewFlowRecord("a", process.MotionSample{Frame: 1})}))
}
