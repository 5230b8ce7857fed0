package core

import (
	"context"
	"time"

	"spotledger/internal/bus"
	"spotledger/internal/schema"

	"github.com/robfig/cron/v3"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

const dispatchCapacity = 24

// Scheduler publishes one job per configured partition on every cron tick. Each partition
// drains on its own worker.
type Scheduler struct {
	svc        *Service
	cron       *cron.Cron
	dispatcher *bus.Dispatcher
	now        func() time.Time
}

// NewScheduler registers spec (standard five-field cron, UTC) against svc.
func NewScheduler(ctx context.Context, svc *Service, spec string) (*Scheduler, error) {
	s := &Scheduler{
		svc:  svc,
		cron: cron.New(cron.WithLocation(time.UTC)),
		now:  time.Now,
	}
	s.dispatcher = bus.NewDispatcher(ctx, dispatchCapacity, s.run)
	if _, err := s.cron.AddFunc(spec, func() { s.Tick(s.now()) }); err != nil {
		return nil, errors.Wrap(err, "add cron entry").With("spec", spec)
	}
	return s, nil
}

// Tick publishes the hour containing now for every partition.
func (s *Scheduler) Tick(now time.Time) {
	hour := schema.TruncateHour(now)
	for _, p := range s.svc.Partitions() {
		if err := s.dispatcher.Publish(bus.Job{Partition: p, Hour: hour}); err != nil {
			logs.Errorf("schedule %s at %s, err: %+v", p, hour.Format(time.RFC3339), err)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, j bus.Job) {
	if _, err := s.svc.ExecuteHour(ctx, j.Partition, j.Hour); err != nil {
		logs.Errorf("scheduled cycle %s at %s failed, err: %+v", j.Partition, j.Hour.Format(time.RFC3339), err)
	}
}

// Start runs the cron in its own goroutine.
func (s *Scheduler) Start() {
	logs.Infof("scheduler started for %d partitions", len(s.svc.Partitions()))
	s.cron.Start()
}

// Stop halts the cron, then drains queued jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.dispatcher.Close()
	logs.Infof("scheduler stopped")
}
