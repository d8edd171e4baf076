package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/datallboy/dlqueue/internal/domain"
)

// SaveAll writes the full job table in one transaction. Rows of jobs that
// are no longer registered are deleted.
func (s *PersistentStore) SaveAll(ctx context.Context, jobs []*domain.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO jobs (id, name, status, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer upsert.Close()

	now := time.Now().UnixNano()
	keep := make(map[string]struct{}, len(jobs))
	for _, job := range jobs {
		v := job.Snapshot()
		v.RunID = ""
		payload, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode job %s: %w", v.ID, err)
		}
		if _, err := upsert.ExecContext(ctx, v.ID, v.Name, string(v.Status), string(payload), v.CreatedAt.UnixNano(), now); err != nil {
			return fmt.Errorf("save job %s: %w", v.ID, err)
		}
		keep[v.ID] = struct{}{}
	}

	rows, err := tx.QueryContext(ctx, "SELECT id FROM jobs")
	if err != nil {
		return fmt.Errorf("list stored jobs: %w", err)
	}
	var stale []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM jobs WHERE id = ?"), id); err != nil {
			return fmt.Errorf("delete job %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Debug("Saved %d jobs, removed %d", len(jobs), len(stale))
	return nil
}

// LoadAll returns every stored job in creation order. Nothing runs across a
// restart, so jobs that were downloading come back cancelled; pending and
// scheduled jobs keep their status for the caller to act on.
func (s *PersistentStore) LoadAll(ctx context.Context) ([]*domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, payload FROM jobs ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		var id, payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}

		var v domain.JobView
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			s.log.Warn("Skipping unreadable job %s: %v", id, err)
			continue
		}
		v.ID = id
		v.RunID = ""
		if v.Status.IsActive() {
			v.Status = domain.StatusCancelled
		}
		jobs = append(jobs, domain.NewJob(v))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}
