package telemetry

import (
	"context"
	"sync"
	"time"

	"quantx/internal/logger"
	storemodel "quantx/internal/store/model"
)

const jobTimeout = 5 * time.Second

// Store 是遥测落库需要的持久层能力。
type Store interface {
	InsertSignalIssue(ctx context.Context, rec storemodel.SignalIssue) error
	UpdateOutcome(ctx context.Context, signalID, outcome string) (int64, error)
	InsertSession(ctx context.Context, rec storemodel.Session) error
	TouchLicense(ctx context.Context, key string, now time.Time) error
	UpsertConnectivity(ctx context.Context, rec storemodel.Connectivity) error
}

// Job 是一条可落库的遥测记录。
type Job interface {
	Apply(ctx context.Context, store Store) error
	Describe() string
}

// Sink 把遥测写出从请求路径剥离：Submit 永不阻塞、永不向调用方
// 报错；单个消费协程顺序落库，写失败打日志后丢弃，不重排队。
type Sink struct {
	store Store

	mu     sync.Mutex
	queue  []Job
	notify chan struct{}
}

func NewSink(store Store, queueSizeHint int) *Sink {
	if queueSizeHint <= 0 {
		queueSizeHint = 256
	}
	return &Sink{
		store:  store,
		queue:  make([]Job, 0, queueSizeHint),
		notify: make(chan struct{}, 1),
	}
}

// Submit 入队一条记录。队列无界，慢消费不会反压请求路径。
func (s *Sink) Submit(job Job) {
	if s == nil || job == nil {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, job)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Pending 返回当前积压量，供观测使用。
func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Run 是唯一的消费循环，ctx 取消时先清空积压再退出。
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			s.drain()
			return ctx.Err()
		case <-s.notify:
			s.drain()
		}
	}
}

func (s *Sink) drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		batch := s.queue
		s.queue = make([]Job, 0, cap(batch))
		s.mu.Unlock()

		for _, job := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
			if err := job.Apply(ctx, s.store); err != nil {
				logger.Warnf("telemetry write dropped (%s): %v", job.Describe(), err)
			}
			cancel()
		}
	}
}
