package telemetry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	storemodel "quantx/internal/store/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingStore struct {
	mu             sync.Mutex
	issues         []storemodel.SignalIssue
	outcomes       []string
	sessions       []storemodel.Session
	touches        []string
	connectivity   []storemodel.Connectivity
	outcomeRows    int64
	failEverything bool
}

func (s *recordingStore) InsertSignalIssue(ctx context.Context, rec storemodel.SignalIssue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEverything {
		return errors.New("db down")
	}
	s.issues = append(s.issues, rec)
	return nil
}

func (s *recordingStore) UpdateOutcome(ctx context.Context, signalID, outcome string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEverything {
		return 0, errors.New("db down")
	}
	s.outcomes = append(s.outcomes, signalID+"="+outcome)
	return s.outcomeRows, nil
}

func (s *recordingStore) InsertSession(ctx context.Context, rec storemodel.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, rec)
	return nil
}

func (s *recordingStore) TouchLicense(ctx context.Context, key string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touches = append(s.touches, key)
	return nil
}

func (s *recordingStore) UpsertConnectivity(ctx context.Context, rec storemodel.Connectivity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectivity = append(s.connectivity, rec)
	return nil
}

func (s *recordingStore) snapshot() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.issues), len(s.outcomes), len(s.touches)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSinkDeliversInOrder(t *testing.T) {
	store := &recordingStore{outcomeRows: 1}
	sink := NewSink(store, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sink.Run(ctx)
		close(done)
	}()

	sink.Submit(IssueJob{Issue: storemodel.SignalIssue{SignalID: "QX_EURUSD_1"}})
	sink.Submit(OutcomeJob{SignalID: "QX_EURUSD_1", Outcome: "WIN"})
	sink.Submit(TouchJob{Key: "QX-TEST-KEY"})

	waitFor(t, func() bool {
		issues, outcomes, touches := store.snapshot()
		return issues == 1 && outcomes == 1 && touches == 1
	})
	assert.Equal(t, 0, sink.Pending())
	cancel()
	<-done
}

func TestSinkDrainsOnShutdown(t *testing.T) {
	store := &recordingStore{outcomeRows: 1}
	sink := NewSink(store, 8)
	for i := 0; i < 10; i++ {
		sink.Submit(TouchJob{Key: "QX-TEST-KEY"})
	}
	require.Equal(t, 10, sink.Pending())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sink.Run(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
	_, _, touches := store.snapshot()
	assert.Equal(t, 10, touches)
	assert.Equal(t, 0, sink.Pending())
}

func TestSinkDropsFailedWrites(t *testing.T) {
	store := &recordingStore{failEverything: true}
	sink := NewSink(store, 8)
	sink.Submit(IssueJob{Issue: storemodel.SignalIssue{SignalID: "QX_EURUSD_1"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = sink.Run(ctx)
	// 写失败只打日志，不重排队。
	assert.Equal(t, 0, sink.Pending())
}

func TestSubmitNeverBlocks(t *testing.T) {
	sink := NewSink(&recordingStore{}, 2)
	// 无消费者时大量提交也不能卡住请求路径。
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			sink.Submit(TouchJob{Key: "QX-TEST-KEY"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked without a consumer")
	}
	assert.Equal(t, 1000, sink.Pending())

	var nilSink *Sink
	nilSink.Submit(TouchJob{Key: "x"}) // nil 安全
}

func TestOutcomeJobRequiresPendingRow(t *testing.T) {
	store := &recordingStore{outcomeRows: 0}
	job := OutcomeJob{SignalID: "QX_EURUSD_1", Outcome: "LOSS"}
	err := job.Apply(context.Background(), store)
	assert.Error(t, err)

	store.outcomeRows = 1
	assert.NoError(t, job.Apply(context.Background(), store))
}

func TestNewSessionJob(t *testing.T) {
	job := NewSessionJob("QX-TEST-KEY", "dev-1", "1.2.3.4", "Asia/Shanghai", []byte(`{"ua":"qx"}`))
	assert.NotEmpty(t, job.Session.ID)
	assert.Equal(t, "QX-TEST-KEY", job.Session.Key)
	assert.Equal(t, "dev-1", job.Session.DeviceID)
	assert.False(t, job.Session.CreatedAt.IsZero())
}
