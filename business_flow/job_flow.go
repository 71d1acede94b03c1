package businessflow

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/amirphl/Susanoo/app/crm"
	"github.com/amirphl/Susanoo/app/dto"
	"github.com/amirphl/Susanoo/app/scheduler"
	"github.com/amirphl/Susanoo/config"
	"github.com/amirphl/Susanoo/repository"
	"github.com/amirphl/Susanoo/utils"
	"github.com/rs/zerolog"
)

// JobController is the scheduler surface driven by the control API
type JobController interface {
	Start(accountID string, platform crm.Platform, items []string, delaySeconds int, form scheduler.FormData) (scheduler.Snapshot, bool, error)
	Pause(key string) (bool, error)
	Resume(key string) (bool, error)
	Stop(key string) (bool, error)
	Reset(key string) error
	Status() map[string]scheduler.Snapshot
	Job(key string) (scheduler.Snapshot, error)
}

// JobFlow defines the job control use cases
type JobFlow interface {
	StartJob(ctx context.Context, req *dto.StartJobRequest, metadata *ClientMetadata) (*dto.StartJobResponse, error)
	PauseJob(ctx context.Context, req *dto.JobKeyRequest, metadata *ClientMetadata) (*dto.JobControlResponse, error)
	ResumeJob(ctx context.Context, req *dto.JobKeyRequest, metadata *ClientMetadata) (*dto.JobControlResponse, error)
	StopJob(ctx context.Context, req *dto.JobKeyRequest, metadata *ClientMetadata) (*dto.JobControlResponse, error)
	ResetJob(ctx context.Context, req *dto.JobKeyRequest, metadata *ClientMetadata) (*dto.JobControlResponse, error)
	GetJob(ctx context.Context, req *dto.JobKeyRequest) (*dto.JobResponse, error)
	ListJobs(ctx context.Context) (*dto.ListJobsResponse, error)
	ExportJob(ctx context.Context, req *dto.JobKeyRequest) (filename string, data []byte, err error)
	LatestRun(ctx context.Context, req *dto.JobKeyRequest) (*dto.JobRunResponse, error)
}

// JobFlowImpl implements JobFlow
type JobFlowImpl struct {
	jobs      JobController
	platforms *crm.Platforms
	runRepo   repository.JobRunRepository
	cfg       config.SchedulerConfig
	logger    zerolog.Logger
}

func NewJobFlow(jobs JobController, platforms *crm.Platforms, runRepo repository.JobRunRepository, cfg config.SchedulerConfig, logger zerolog.Logger) JobFlow {
	return &JobFlowImpl{
		jobs:      jobs,
		platforms: platforms,
		runRepo:   runRepo,
		cfg:       cfg,
		logger:    logger.With().Str("component", "job_flow").Logger(),
	}
}

func (f *JobFlowImpl) StartJob(ctx context.Context, req *dto.StartJobRequest, metadata *ClientMetadata) (*dto.StartJobResponse, error) {
	platform, err := f.resolvePlatform(req.Platform)
	if err != nil {
		return nil, err
	}

	// Validate items and sender
	items := utils.NormalizeItems(req.Items)
	if len(items) == 0 {
		return nil, NewBusinessError("ITEMS_REQUIRED", "At least one non-blank item is required", ErrItemsRequired)
	}
	if f.cfg.MaxItemsPerJob > 0 && len(items) > f.cfg.MaxItemsPerJob {
		return nil, NewBusinessErrorf("TOO_MANY_ITEMS", "A job accepts at most %d items", ErrTooManyItems, f.cfg.MaxItemsPerJob)
	}
	form := toFormData(req.FormData)
	if form.SendEmail {
		if form.FromEmail == "" {
			return nil, NewBusinessError("SENDER_REQUIRED", "from_email is required to send email", ErrSenderRequired)
		}
		if strings.TrimSpace(form.Subject) == "" {
			return nil, NewBusinessError("SUBJECT_REQUIRED", "subject is required to send email", ErrSubjectRequired)
		}
	}

	delay := f.cfg.DefaultDelaySeconds
	if req.DelaySeconds != nil {
		delay = *req.DelaySeconds
	}

	snap, started, err := f.jobs.Start(strings.TrimSpace(req.AccountID), platform, items, delay, form)
	if err != nil {
		switch {
		case errors.Is(err, scheduler.ErrSchedulerClosed):
			return nil, NewBusinessError("SCHEDULER_NOT_RUNNING", "Scheduler is shutting down", ErrSchedulerNotRunning)
		case errors.Is(err, scheduler.ErrTooManyItems):
			return nil, NewBusinessError("TOO_MANY_ITEMS", "Too many items", fmt.Errorf("%w: %v", ErrTooManyItems, err))
		}
		return nil, NewBusinessError("START_JOB_FAILED", "Failed to start job", err)
	}

	metadata.attach(f.logger.Info()).
		Str("job_key", snap.Key).
		Bool("accepted", started).
		Int("items", len(items)).
		Msg("start requested")

	message := "Job started"
	if !started {
		message = "Job is already processing"
	}
	return &dto.StartJobResponse{
		Accepted: started,
		Message:  message,
		Job:      toJobResponse(snap),
	}, nil
}

func (f *JobFlowImpl) PauseJob(ctx context.Context, req *dto.JobKeyRequest, metadata *ClientMetadata) (*dto.JobControlResponse, error) {
	return f.control(req, metadata, "pause", f.jobs.Pause)
}

func (f *JobFlowImpl) ResumeJob(ctx context.Context, req *dto.JobKeyRequest, metadata *ClientMetadata) (*dto.JobControlResponse, error) {
	return f.control(req, metadata, "resume", f.jobs.Resume)
}

func (f *JobFlowImpl) StopJob(ctx context.Context, req *dto.JobKeyRequest, metadata *ClientMetadata) (*dto.JobControlResponse, error) {
	return f.control(req, metadata, "stop", f.jobs.Stop)
}

func (f *JobFlowImpl) ResetJob(ctx context.Context, req *dto.JobKeyRequest, metadata *ClientMetadata) (*dto.JobControlResponse, error) {
	key, err := f.jobKey(req)
	if err != nil {
		return nil, err
	}
	if err := f.jobs.Reset(key); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		if errors.Is(err, scheduler.ErrJobActive) {
			return nil, NewBusinessError("JOB_ACTIVE", "Stop or pause the job before resetting it", ErrJobActive)
		}
		return nil, NewBusinessError("RESET_JOB_FAILED", "Failed to reset job", err)
	}
	metadata.attach(f.logger.Info()).Str("job_key", key).Msg("reset requested")
	return &dto.JobControlResponse{Key: key, Changed: true}, nil
}

func (f *JobFlowImpl) GetJob(ctx context.Context, req *dto.JobKeyRequest) (*dto.JobResponse, error) {
	snap, err := f.snapshot(req)
	if err != nil {
		return nil, err
	}
	resp := toJobResponse(snap)
	return &resp, nil
}

func (f *JobFlowImpl) ListJobs(ctx context.Context) (*dto.ListJobsResponse, error) {
	all := f.jobs.Status()
	out := &dto.ListJobsResponse{Jobs: make(map[string]dto.JobResponse, len(all)), Total: len(all)}
	for key, snap := range all {
		out.Jobs[key] = toJobResponse(snap)
	}
	return out, nil
}

func (f *JobFlowImpl) LatestRun(ctx context.Context, req *dto.JobKeyRequest) (*dto.JobRunResponse, error) {
	if f.runRepo == nil {
		return nil, ErrJobRunNotFound
	}
	key, err := f.jobKey(req)
	if err != nil {
		return nil, err
	}
	run, err := f.runRepo.LatestByJobKey(ctx, key)
	if err != nil {
		return nil, NewBusinessError("FETCH_JOB_RUN_FAILED", "Failed to fetch job run", err)
	}
	if run == nil {
		return nil, ErrJobRunNotFound
	}
	return &dto.JobRunResponse{
		UUID:       run.UUID.String(),
		JobKey:     run.JobKey,
		Status:     run.Status,
		Cursor:     run.Cursor,
		Total:      len(run.Items),
		LastError:  run.LastError,
		Summary:    run.Summary,
		StartedAt:  formatTime(run.StartedAt),
		FinishedAt: formatTimePtr(run.FinishedAt),
	}, nil
}

type controlFunc func(key string) (bool, error)

func (f *JobFlowImpl) control(req *dto.JobKeyRequest, metadata *ClientMetadata, action string, op controlFunc) (*dto.JobControlResponse, error) {
	key, err := f.jobKey(req)
	if err != nil {
		return nil, err
	}
	changed, err := op(key)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, NewBusinessErrorf("CONTROL_FAILED", "Failed to %s job", err, action)
	}

	resp := &dto.JobControlResponse{Key: key, Changed: changed}
	if snap, err := f.jobs.Job(key); err == nil {
		resp.Status = string(snap.Status)
	}
	metadata.attach(f.logger.Info()).
		Str("job_key", key).
		Str("action", action).
		Bool("changed", changed).
		Msg("control requested")
	return resp, nil
}

func (f *JobFlowImpl) snapshot(req *dto.JobKeyRequest) (scheduler.Snapshot, error) {
	key, err := f.jobKey(req)
	if err != nil {
		return scheduler.Snapshot{}, err
	}
	snap, err := f.jobs.Job(key)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			return scheduler.Snapshot{}, ErrJobNotFound
		}
		return scheduler.Snapshot{}, err
	}
	return snap, nil
}

func (f *JobFlowImpl) jobKey(req *dto.JobKeyRequest) (string, error) {
	platform, err := f.resolvePlatform(req.Platform)
	if err != nil {
		return "", err
	}
	return scheduler.JobKey(platform.Name(), strings.TrimSpace(req.AccountID)), nil
}

func (f *JobFlowImpl) resolvePlatform(name string) (crm.Platform, error) {
	platform, err := f.platforms.Resolve(name)
	if err != nil {
		return nil, NewBusinessErrorf("UNKNOWN_PLATFORM", "Unknown platform %q", ErrUnknownPlatform, name)
	}
	return platform, nil
}

func toFormData(in dto.JobFormData) scheduler.FormData {
	senders := make([]string, 0, len(in.FromAddresses))
	for _, s := range in.FromAddresses {
		if s = strings.TrimSpace(s); s != "" {
			senders = append(senders, s)
		}
	}
	return scheduler.FormData{
		Fields:        in.Fields,
		EmailField:    strings.TrimSpace(in.EmailField),
		SendEmail:     in.SendEmail,
		CheckStatus:   in.CheckStatus,
		CheckDelay:    in.CheckDelay,
		FromName:      strings.TrimSpace(in.FromName),
		FromEmail:     strings.TrimSpace(in.FromEmail),
		FromAddresses: senders,
		Subject:       in.Subject,
		Content:       in.Content,
		MailFormat:    in.MailFormat,
	}
}
