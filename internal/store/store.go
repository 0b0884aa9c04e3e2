package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	core "github.com/consultdeck/deckgen/internal/deck/core"
)

// Store is the Postgres persistence layer for users and deck jobs. It
// satisfies core.JobStore so the pipeline can checkpoint stage outputs.
type Store struct {
	DB *sql.DB
}

// New opens a Postgres connection with the given DSN and verifies it.
func New(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &Store{DB: db}, nil
}

// Job is a persisted deck generation job. Storyline, Research and
// Quality hold the stage outputs as JSON; a crashed job resumes from
// the last non-null stage.
type Job struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Topic        string          `json:"topic"`
	Length       string          `json:"length"`
	Status       string          `json:"status"`
	Error        string          `json:"error,omitempty"`
	ArtifactPath string          `json:"artifact_path,omitempty"`
	Iteration    int             `json:"iteration"`
	Storyline    json.RawMessage `json:"storyline,omitempty"`
	Research     json.RawMessage `json:"research,omitempty"`
	Quality      json.RawMessage `json:"quality,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// CreateUser inserts a user with a bcrypt password hash.
func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES (gen_random_uuid(), $1, $2, NOW())`,
		email, passwordHash)
	return err
}

// GetUserByEmail returns the user id and password hash for an email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, password_hash FROM users WHERE email = $1`, email).Scan(&id, &hash)
	return id, hash, err
}

// CreateJob registers a new job in the queued state.
func (s *Store) CreateJob(ctx context.Context, id, userID, topic, length string) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO deck_jobs (id, user_id, topic, length, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
		id, userID, topic, length, core.StageQueued)
	return err
}

// UpdateStatus moves a job to a new status, recording the error text
// for failed jobs.
func (s *Store) UpdateStatus(ctx context.Context, jobID string, status string, errMsg string) error {
	_, err := s.DB.ExecContext(ctx, `
UPDATE deck_jobs SET status = $2, error = NULLIF($3, ''), updated_at = NOW() WHERE id = $1`,
		jobID, status, errMsg)
	return err
}

// SaveStoryline checkpoints the storyline stage output.
func (s *Store) SaveStoryline(ctx context.Context, jobID string, storyline core.Storyline) error {
	b, err := json.Marshal(storyline)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE deck_jobs SET storyline = $2, updated_at = NOW() WHERE id = $1`, jobID, b)
	return err
}

// SaveResearch checkpoints the evidence collection stage output.
func (s *Store) SaveResearch(ctx context.Context, jobID string, research core.ResearchResults) error {
	b, err := json.Marshal(research)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE deck_jobs SET research = $2, updated_at = NOW() WHERE id = $1`, jobID, b)
	return err
}

// SaveArtifact records the current artifact path and iteration.
func (s *Store) SaveArtifact(ctx context.Context, jobID string, path string, iteration int) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE deck_jobs SET artifact_path = $2, iteration = $3, updated_at = NOW() WHERE id = $1`,
		jobID, path, iteration)
	return err
}

// SaveQuality records the terminal quality score.
func (s *Store) SaveQuality(ctx context.Context, jobID string, score core.QualityScore) error {
	b, err := json.Marshal(score)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx,
		`UPDATE deck_jobs SET quality = $2, updated_at = NOW() WHERE id = $1`, jobID, b)
	return err
}

// GetJob loads one job, scoped to its owner.
func (s *Store) GetJob(ctx context.Context, jobID, userID string) (Job, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT id, user_id, topic, length, status, COALESCE(error, ''), COALESCE(artifact_path, ''),
       iteration, storyline, research, quality, created_at, updated_at
FROM deck_jobs WHERE id = $1 AND user_id = $2`, jobID, userID)
	return scanJob(row)
}

// ListJobs pages a user's jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, userID string, limit, offset int) ([]Job, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, user_id, topic, length, status, COALESCE(error, ''), COALESCE(artifact_path, ''),
       iteration, storyline, research, quality, created_at, updated_at
FROM deck_jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// JobPayloads decodes the persisted storyline and research for the
// slide regeneration path.
func (s *Store) JobPayloads(ctx context.Context, jobID, userID string) (core.Storyline, core.ResearchResults, Job, error) {
	job, err := s.GetJob(ctx, jobID, userID)
	if err != nil {
		return core.Storyline{}, core.ResearchResults{}, Job{}, err
	}
	if len(job.Storyline) == 0 || len(job.Research) == 0 {
		return core.Storyline{}, core.ResearchResults{}, Job{}, fmt.Errorf("job %s has no persisted storyline/research", jobID)
	}
	var storyline core.Storyline
	if err := json.Unmarshal(job.Storyline, &storyline); err != nil {
		return core.Storyline{}, core.ResearchResults{}, Job{}, fmt.Errorf("decode storyline: %w", err)
	}
	var research core.ResearchResults
	if err := json.Unmarshal(job.Research, &research); err != nil {
		return core.Storyline{}, core.ResearchResults{}, Job{}, fmt.Errorf("decode research: %w", err)
	}
	return storyline, research, job, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (Job, error) {
	var job Job
	var storyline, research, quality []byte
	if err := row.Scan(&job.ID, &job.UserID, &job.Topic, &job.Length, &job.Status, &job.Error,
		&job.ArtifactPath, &job.Iteration, &storyline, &research, &quality,
		&job.CreatedAt, &job.UpdatedAt); err != nil {
		return Job{}, err
	}
	job.Storyline = storyline
	job.Research = research
	job.Quality = quality
	return job, nil
}
