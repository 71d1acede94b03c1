package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amirphl/Susanoo/models"
	"github.com/amirphl/Susanoo/repository"
	"github.com/google/uuid"
)

type runArchiver struct {
	repo repository.JobRunRepository
}

// NewRunArchiver persists terminal snapshots as job runs
func NewRunArchiver(repo repository.JobRunRepository) Archiver {
	return &runArchiver{repo: repo}
}

func (a *runArchiver) Archive(ctx context.Context, snap Snapshot) error {
	run, err := toJobRun(snap)
	if err != nil {
		return err
	}
	if err := a.repo.Save(ctx, run); err != nil {
		return fmt.Errorf("failed to save job run %s: %w", snap.RunID, err)
	}
	return nil
}

func toJobRun(snap Snapshot) (*models.JobRun, error) {
	id, err := uuid.Parse(snap.RunID)
	if err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", snap.RunID, err)
	}
	results, err := json.Marshal(snap.Results)
	if err != nil {
		return nil, fmt.Errorf("failed to encode results: %w", err)
	}
	summary, err := json.Marshal(snap.Summary)
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}

	run := &models.JobRun{
		UUID:         id,
		JobKey:       snap.Key,
		AccountID:    snap.AccountID,
		Platform:     snap.Platform,
		Status:       string(snap.Status),
		Items:        snap.Items,
		Cursor:       snap.Cursor,
		DelaySeconds: snap.DelaySeconds,
		Results:      results,
		Summary:      summary,
		StartedAt:    snap.StartedAt,
		FinishedAt:   snap.FinishedAt,
	}
	if snap.LastError != "" {
		run.LastError = &snap.LastError
	}
	return run, nil
}
