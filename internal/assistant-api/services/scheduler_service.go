package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/go-co-op/gocron/v2"

	"assistant-dispatch-service/internal/assistant-core/registry"
	"assistant-dispatch-service/internal/models"
)

const (
	tagCronRun        = "cron_assistant_run"
	tagRegistryReload = "registry_reload"
)

// DispatchFunc runs one task config to completion.
type DispatchFunc func(ctx context.Context, cfg models.TaskConfig) *models.ResultEnvelope

// SchedulerService reloads the registry periodically and runs every entry that
// declares a cron expression, using the entry's defaults as the config.
type SchedulerService struct {
	Registry       *registry.Registry
	Dispatch       DispatchFunc
	Scheduler      gocron.Scheduler
	ReloadInterval time.Duration
	appContext     context.Context
}

func NewSchedulerService(ctx context.Context, reg *registry.Registry, dispatch DispatchFunc, reloadInterval time.Duration) (*SchedulerService, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &SchedulerService{
		Registry:       reg,
		Dispatch:       dispatch,
		Scheduler:      s,
		ReloadInterval: reloadInterval,
		appContext:     ctx,
	}, nil
}

func (s *SchedulerService) Start() error {
	hlog.Info("SchedulerService: starting")
	s.Scheduler.Start()
	if s.ReloadInterval > 0 {
		_, err := s.Scheduler.NewJob(
			gocron.DurationJob(s.ReloadInterval),
			gocron.NewTask(s.ReloadRegistry),
			gocron.WithName("registry_reload"),
			gocron.WithTags(tagRegistryReload),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("failed to schedule registry reload: %w", err)
		}
		hlog.Infof("SchedulerService: registry reload every %s", s.ReloadInterval)
	}
	s.ScheduleRuns()
	return nil
}

func (s *SchedulerService) Stop() {
	hlog.Info("SchedulerService: stopping")
	if err := s.Scheduler.Shutdown(); err != nil {
		hlog.Errorf("SchedulerService: error shutting down gocron scheduler: %v", err)
	}
}

// ReloadRegistry re-reads the registry source and reschedules cron runs. A
// failed reload keeps both the registry and the schedule as they were.
func (s *SchedulerService) ReloadRegistry() error {
	if err := s.Registry.Reload(); err != nil {
		return err
	}
	s.ScheduleRuns()
	return nil
}

// ScheduleRuns replaces every cron run job with one per entry declaring cron.
// It returns the number of jobs scheduled.
func (s *SchedulerService) ScheduleRuns() int {
	s.Scheduler.RemoveByTags(tagCronRun)

	scheduled := 0
	for _, b := range s.Registry.Bindings() {
		entry := b.Entry
		if entry.Cron == "" {
			continue
		}
		job, err := s.Scheduler.NewJob(
			gocron.CronJob(entry.Cron, false),
			gocron.NewTask(s.executeScheduledRun, entry.TaskType),
			gocron.WithName("assistant_"+entry.TaskType),
			gocron.WithTags(tagCronRun, "task_type:"+entry.TaskType),
		)
		if err != nil {
			hlog.Errorf("SchedulerService: cannot schedule %s with cron '%s': %v", entry.TaskType, entry.Cron, err)
			continue
		}
		scheduled++
		if next, err := job.NextRun(); err == nil {
			hlog.Infof("SchedulerService: scheduled %s with cron '%s', next run %s", entry.TaskType, entry.Cron, next.Format(time.RFC3339))
		}
	}
	hlog.Infof("SchedulerService: %d jobs currently scheduled", len(s.Scheduler.Jobs()))
	return scheduled
}

func (s *SchedulerService) executeScheduledRun(taskType string) {
	hlog.Infof("SchedulerService: cron run triggered for %s", taskType)
	env := s.Dispatch(s.appContext, models.TaskConfig{models.FieldTaskType: taskType})
	hlog.Infof("SchedulerService: scheduled run %s for %s finished with status %s", env.RunID, taskType, env.Status)
}
