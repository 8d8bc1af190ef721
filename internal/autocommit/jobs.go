package autocommit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/zulandar/switchyard/internal/models"
	"github.com/zulandar/switchyard/internal/notify"
)

// ProcessPending claims and executes the oldest due job. It reports whether
// a job was processed; false means nothing was due or another worker
// claimed the job first.
func (p *Pipeline) ProcessPending(ctx context.Context) (bool, error) {
	db := p.db.WithContext(ctx)

	var job models.AutoCommitJob
	result := db.Where("status = ? AND execute_at <= ?", models.JobPending, p.opts.Now()).
		Order("execute_at ASC").Order("id ASC").
		Limit(1).
		Find(&job)
	if result.Error != nil {
		return false, fmt.Errorf("autocommit: find due job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return false, nil
	}

	claim := db.Model(&models.AutoCommitJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobPending).
		Update("status", models.JobRunning)
	if claim.Error != nil {
		return false, fmt.Errorf("autocommit: claim job %d: %w", job.ID, claim.Error)
	}
	if claim.RowsAffected == 0 {
		return false, nil
	}

	res, execErr := p.Execute(ctx, job.SessionID)

	status := models.JobCompleted
	var stored string
	switch {
	case execErr != nil:
		status = models.JobFailed
		stored = execErr.Error()
	case !res.Success:
		status = models.JobFailed
		stored = res.Error
	default:
		data, err := json.Marshal(res)
		if err != nil {
			return true, fmt.Errorf("autocommit: encode result for job %d: %w", job.ID, err)
		}
		stored = string(data)
	}

	if err := db.Model(&models.AutoCommitJob{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":       status,
			"result":       stored,
			"completed_at": p.opts.Now(),
		}).Error; err != nil {
		return true, fmt.Errorf("autocommit: finish job %d: %w", job.ID, err)
	}

	if status == models.JobFailed {
		log.Printf("autocommit: job %d for session %s failed: %s", job.ID, job.SessionID, stored)
		p.notify(ctx, notify.Event{
			Title:    "Auto-commit failed",
			Body:     stored,
			Severity: notify.SeverityError,
			Fields:   []notify.Field{{Name: "Session", Value: job.SessionID}},
		})
	}
	if execErr != nil {
		return true, execErr
	}
	return true, nil
}

// Job returns a job by id.
func (p *Pipeline) Job(ctx context.Context, id uint) (*models.AutoCommitJob, error) {
	var job models.AutoCommitJob
	result := p.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&job)
	if result.Error != nil {
		return nil, fmt.Errorf("autocommit: get job %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &job, nil
}

func decodeResult(s string) (Result, error) {
	var r Result
	err := json.Unmarshal([]byte(s), &r)
	return r, err
}
