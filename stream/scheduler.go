package stream

import (
	"context"
	"log/slog"
	"sync"
)

// Task is one unit of consumer work: a decoded event plus the ack hooks of
// its underlying stream message.
type Task struct {
	PartitionKey string
	Do           func(ctx context.Context) error
}

// Scheduler fans consumer work out to a fixed worker pool while keeping
// strict ordering per partition key: tasks sharing a key are chained behind
// the active one, tasks with different keys run in parallel.
type Scheduler struct {
	maxConcurrency int

	feeder chan *schedulerTask
	out    chan struct{}

	lk     sync.Mutex
	active map[string][]*schedulerTask

	log *slog.Logger
}

type schedulerTask struct {
	task    *Task
	control string
}

func NewScheduler(maxConcurrency int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		maxConcurrency: maxConcurrency,
		feeder:         make(chan *schedulerTask),
		active:         make(map[string][]*schedulerTask),
		out:            make(chan struct{}),
		log:            logger.With("system", "scheduler"),
	}
	for i := 0; i < maxConcurrency; i++ {
		go s.worker()
	}
	workersActive.Set(float64(maxConcurrency))
	return s
}

func (s *Scheduler) Shutdown() {
	s.log.Info("shutting down consumer scheduler")
	for i := 0; i < s.maxConcurrency; i++ {
		s.feeder <- &schedulerTask{control: "stop"}
	}
	close(s.feeder)
	for i := 0; i < s.maxConcurrency; i++ {
		<-s.out
	}
	s.log.Info("consumer scheduler shutdown complete")
}

// AddWork enqueues a task. If another task with the same partition key is
// in flight, the new one queues behind it instead of reaching the feeder.
func (s *Scheduler) AddWork(ctx context.Context, task *Task) error {
	workItemsAdded.Inc()
	t := &schedulerTask{task: task}

	s.lk.Lock()
	a, ok := s.active[task.PartitionKey]
	if ok {
		s.active[task.PartitionKey] = append(a, t)
		s.lk.Unlock()
		return nil
	}
	s.active[task.PartitionKey] = []*schedulerTask{}
	s.lk.Unlock()

	select {
	case s.feeder <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) worker() {
	for work := range s.feeder {
		for work != nil {
			if work.control == "stop" {
				s.out <- struct{}{}
				return
			}

			if err := work.task.Do(context.TODO()); err != nil {
				s.log.Error("event handler failed", "partition", work.task.PartitionKey, "err", err)
			}
			workItemsProcessed.Inc()

			key := work.task.PartitionKey
			s.lk.Lock()
			rem, ok := s.active[key]
			if !ok {
				s.log.Error("should always have an 'active' entry if a worker is processing a job")
			}
			if len(rem) == 0 {
				delete(s.active, key)
				work = nil
			} else {
				work = rem[0]
				s.active[key] = rem[1:]
			}
			s.lk.Unlock()
		}
	}
}
