// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the durable job table behind the
// background queue: enqueue with dedupe, claim by guarded update, and the
// settle operations (done, retry, defer, fail).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/domain"
)

// EnqueueJob inserts a pending job. When j.DedupeKey is set and an active
// job already holds that key, the existing job is returned with ErrDuplicate.
// db may be an open transaction; it stays usable after a duplicate.
func EnqueueJob(ctx context.Context, db *gorm.DB, j *domain.Job) (*domain.Job, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if j.RunAt.IsZero() {
		j.RunAt = now
	}
	j.Status = domain.JobPending
	j.CreatedAt, j.UpdatedAt = now, now
	// Savepoint: a unique violation must not abort the caller's transaction,
	// the lookup below runs on it.
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(j).Error
	})
	if err != nil {
		if isDuplicate(err) && j.DedupeKey != nil {
			var existing domain.Job
			if ferr := db.WithContext(ctx).First(&existing, "dedupe_key = ?", *j.DedupeKey).Error; ferr == nil {
				return &existing, ErrDuplicate
			}
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return j, nil
}

// ClaimJob marks the next due pending job as running for token and returns
// it, or ErrNotFound when nothing is due. The claim is a single guarded
// UPDATE; the row is then read back by its unique lock token.
func ClaimJob(ctx context.Context, db *gorm.DB, token string, now time.Time) (*domain.Job, error) {
	sub := db.Model(&domain.Job{}).
		Select("id").
		Where("status = ? AND run_at <= ?", domain.JobPending, now).
		Order("run_at asc").Order("created_at asc").
		Limit(1)
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = (?) AND status = ?", sub, domain.JobPending).
		UpdateColumns(map[string]any{
			"status":     domain.JobRunning,
			"locked_by":  token,
			"locked_at":  now,
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	var j domain.Job
	if err := db.WithContext(ctx).First(&j, "locked_by = ? AND status = ?", token, domain.JobRunning).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// CompleteJob settles a running job as done and frees its dedupe key.
func CompleteJob(ctx context.Context, db *gorm.DB, id, token string) error {
	return settleJob(ctx, db, id, token, map[string]any{
		"status":     domain.JobDone,
		"dedupe_key": nil,
		"last_error": "",
	})
}

// RetryJob puts a running job back to pending at runAt, recording errText.
func RetryJob(ctx context.Context, db *gorm.DB, id, token string, runAt time.Time, errText string) error {
	return settleJob(ctx, db, id, token, map[string]any{
		"status":     domain.JobPending,
		"run_at":     runAt,
		"last_error": errText,
	})
}

// DeferJob puts a running job back to pending at runAt without consuming an
// attempt: the claim's increment is undone and deferrals is bumped instead.
func DeferJob(ctx context.Context, db *gorm.DB, id, token string, runAt time.Time, reason string) error {
	return settleJob(ctx, db, id, token, map[string]any{
		"status":     domain.JobPending,
		"run_at":     runAt,
		"attempts":   gorm.Expr("attempts - 1"),
		"deferrals":  gorm.Expr("deferrals + 1"),
		"last_error": reason,
	})
}

// FailJob settles a running job as permanently failed and frees its
// dedupe key so an operator replay can enqueue fresh work.
func FailJob(ctx context.Context, db *gorm.DB, id, token, errText string) error {
	return settleJob(ctx, db, id, token, map[string]any{
		"status":     domain.JobFailed,
		"dedupe_key": nil,
		"last_error": errText,
	})
}

func settleJob(ctx context.Context, db *gorm.DB, id, token string, fields map[string]any) error {
	fields["locked_by"] = ""
	fields["locked_at"] = nil
	fields["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND status = ? AND locked_by = ?", id, domain.JobRunning, token).
		UpdateColumns(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// RecoverStaleJobs returns running jobs locked before cutoff to pending.
// Their worker is presumed dead; the attempt it consumed stays counted.
func RecoverStaleJobs(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("status = ? AND locked_at < ?", domain.JobRunning, cutoff).
		UpdateColumns(map[string]any{
			"status":     domain.JobPending,
			"locked_by":  "",
			"locked_at":  nil,
			"run_at":     now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

// GetJob fetches a job by id.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	var j domain.Job
	if err := db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// CountJobsByStatus returns how many jobs sit in each status.
func CountJobsByStatus(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	if err := db.WithContext(ctx).Model(&domain.Job{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
