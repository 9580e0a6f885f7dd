package usecase

import (
	"fmt"

	"image-analysis-backend/internal/domain"
	"image-analysis-backend/internal/domain/model"
	"image-analysis-backend/internal/infra/jobs"
)

// Compile-time check
var _ JobUseCase = (*jobUC)(nil)

// JobUseCase exposes registry views and lifecycle commands. Jobs are
// in-memory; everything here is synchronous and non-blocking.
type JobUseCase interface {
	Get(id string) (*model.Job, error)
	List(status string, start, limit int) ([]*model.Job, int, error)
	Stats() map[string]int
	// Result returns the job artifact; ErrJobNotReady until COMPLETED.
	Result(id string) (any, error)
	// Cancel cooperatively cancels; ErrJobTerminal when already settled.
	Cancel(id string) error
	// Remove deletes a terminal job from the registry.
	Remove(id string) error
	// Clear removes all completed jobs; with force it first cancels every
	// queued or processing one. Returns the number of jobs removed.
	Clear(force bool) int
}

type jobUC struct {
	registry *jobs.Registry
}

func NewJobUseCase(registry *jobs.Registry) *jobUC {
	return &jobUC{registry: registry}
}

func (u *jobUC) Get(id string) (*model.Job, error) {
	job, ok := u.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return job, nil
}

func (u *jobUC) List(status string, start, limit int) ([]*model.Job, int, error) {
	if status != "" && !model.ValidJobStatus(status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidArgument, status)
	}
	list, total := u.registry.List(status, start, limit)
	return list, total, nil
}

func (u *jobUC) Stats() map[string]int {
	return u.registry.Stats()
}

func (u *jobUC) Result(id string) (any, error) {
	job, err := u.Get(id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case model.JobStatusCompleted:
		return job.Result, nil
	case model.JobStatusFailed:
		return nil, fmt.Errorf("%w: %s", domain.ErrCalculation, job.Error)
	case model.JobStatusCancelled:
		return nil, fmt.Errorf("%w: job %s was cancelled", domain.ErrJobTerminal, id)
	default:
		return nil, fmt.Errorf("%w: job %s is %s", domain.ErrJobNotReady, id, job.Status)
	}
}

func (u *jobUC) Cancel(id string) error {
	if _, err := u.Get(id); err != nil {
		return err
	}
	if !u.registry.Cancel(id) {
		return fmt.Errorf("%w: job %s already settled", domain.ErrJobTerminal, id)
	}
	return nil
}

func (u *jobUC) Remove(id string) error {
	return u.registry.Remove(id)
}

func (u *jobUC) Clear(force bool) int {
	if force {
		for _, job := range listAll(u.registry, string(model.JobStatusQueued)) {
			u.registry.Cancel(job.ID)
		}
		for _, job := range listAll(u.registry, string(model.JobStatusProcessing)) {
			u.registry.Cancel(job.ID)
		}
	}
	removed := 0
	statuses := []string{string(model.JobStatusCompleted)}
	if force {
		statuses = append(statuses, string(model.JobStatusFailed), string(model.JobStatusCancelled))
	}
	for _, status := range statuses {
		for _, job := range listAll(u.registry, status) {
			if u.registry.Remove(job.ID) == nil {
				removed++
			}
		}
	}
	return removed
}

func listAll(r *jobs.Registry, status string) []*model.Job {
	list, _ := r.List(status, 0, 0)
	return list
}
