package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/animus-labs/modelctl/internal/domain"
	"github.com/animus-labs/modelctl/internal/repo"
)

const runColumns = `r.run_id, r.experiment_id, r.status, r.started_at, r.ended_at, r.artifact_uri, r.params, r.metrics`

var orderColumns = map[string]string{
	"end_time":   "r.ended_at",
	"start_time": "r.started_at",
	"run_id":     "r.run_id",
	"status":     "r.status",
}

// RunStore is a run registry backed by PostgreSQL. Tag writes through SetTags
// share one transaction.
type RunStore struct {
	db  DB
	now func() time.Time
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db, now: time.Now}
}

func (s *RunStore) CreateExperiment(ctx context.Context, experiment domain.Experiment) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(experiment.ID) == "" {
		return fmt.Errorf("experiment id is required")
	}
	if strings.TrimSpace(experiment.Name) == "" {
		return fmt.Errorf("experiment name is required")
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO experiments (experiment_id, name, artifact_location, created_at) VALUES ($1,$2,$3,$4)`,
		strings.TrimSpace(experiment.ID),
		strings.TrimSpace(experiment.Name),
		nullIfEmpty(experiment.ArtifactLocation),
		s.now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("experiment %s already exists", experiment.ID)
		}
		return fmt.Errorf("insert experiment: %w", err)
	}
	return nil
}

func (s *RunStore) GetExperiment(ctx context.Context, experimentID string) (domain.Experiment, error) {
	if s == nil || s.db == nil {
		return domain.Experiment{}, fmt.Errorf("run store not initialized")
	}
	experimentID = strings.TrimSpace(experimentID)
	if experimentID == "" {
		return domain.Experiment{}, fmt.Errorf("experiment id is required")
	}
	var experiment domain.Experiment
	var location sql.NullString
	row := s.db.QueryRowContext(
		ctx,
		`SELECT experiment_id, name, artifact_location FROM experiments WHERE experiment_id = $1`,
		experimentID,
	)
	if err := row.Scan(&experiment.ID, &experiment.Name, &location); err != nil {
		return domain.Experiment{}, handleNotFound(err)
	}
	if location.Valid {
		experiment.ArtifactLocation = location.String
	}
	return experiment, nil
}

// CreateRun records a run together with its initial tags.
func (s *RunStore) CreateRun(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	paramsJSON, err := encodeJSON(run.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	metricsJSON, err := encodeJSON(run.Metrics)
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	var endedAt sql.NullTime
	if run.EndedAt != nil {
		endedAt = sql.NullTime{Time: run.EndedAt.UTC(), Valid: true}
	}
	status := strings.TrimSpace(run.Status)
	if status == "" {
		status = "FINISHED"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO experiment_runs (
			run_id,
			experiment_id,
			status,
			started_at,
			ended_at,
			artifact_uri,
			params,
			metrics
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		strings.TrimSpace(run.ID),
		strings.TrimSpace(run.ExperimentID),
		status,
		normalizeTime(run.StartedAt),
		endedAt,
		nullIfEmpty(run.ArtifactURI),
		paramsJSON,
		metricsJSON,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("experiment %s: %w", run.ExperimentID, repo.ErrNotFound)
		}
		return fmt.Errorf("insert run: %w", err)
	}
	for key, value := range run.Tags {
		if err := s.upsertTag(ctx, tx, domain.TagWrite{RunID: run.ID, Key: key, Value: value}); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, runID string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM experiment_runs r WHERE r.run_id = $1`, runID)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	runs := []domain.Run{run}
	if err := s.attachTags(ctx, runs); err != nil {
		return domain.Run{}, err
	}
	return runs[0], nil
}

func (s *RunStore) SearchRuns(ctx context.Context, search repo.RunSearch) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	query, args, err := buildRunSearchQuery(search)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search runs: %w", err)
	}
	if err := s.attachTags(ctx, runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *RunStore) SetTag(ctx context.Context, runID, key, value string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	return s.upsertTag(ctx, s.db, domain.TagWrite{RunID: runID, Key: key, Value: value})
}

// SetTags applies every write in a single transaction: either all tags change
// or none do.
func (s *RunStore) SetTags(ctx context.Context, writes []domain.TagWrite) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, w := range writes {
		if err := s.upsertTag(ctx, tx, w); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *RunStore) upsertTag(ctx context.Context, db execer, w domain.TagWrite) error {
	if err := w.Validate(); err != nil {
		return err
	}
	_, err := db.ExecContext(
		ctx,
		`INSERT INTO run_tags (run_id, key, value, updated_at) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (run_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		strings.TrimSpace(w.RunID),
		strings.TrimSpace(w.Key),
		w.Value,
		s.now().UTC(),
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("set tag %s: run %s: %w", w.Key, w.RunID, repo.ErrNotFound)
		}
		return fmt.Errorf("set tag %s on %s: %w", w.Key, w.RunID, err)
	}
	return nil
}

func (s *RunStore) attachTags(ctx context.Context, runs []domain.Run) error {
	if len(runs) == 0 {
		return nil
	}
	index := make(map[string]int, len(runs))
	args := make([]any, 0, len(runs))
	for i := range runs {
		runs[i].Tags = map[string]string{}
		index[runs[i].ID] = i
		args = append(args, runs[i].ID)
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT run_id, key, value FROM run_tags WHERE run_id IN (`+placeholders(1, len(args))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var runID, key, value string
		if err := rows.Scan(&runID, &key, &value); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		if i, ok := index[runID]; ok {
			runs[i].Tags[key] = value
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load tags: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var endedAt sql.NullTime
	var artifactURI sql.NullString
	var paramsJSON []byte
	var metricsJSON []byte
	if err := row.Scan(&run.ID, &run.ExperimentID, &run.Status, &run.StartedAt, &endedAt, &artifactURI, &paramsJSON, &metricsJSON); err != nil {
		return domain.Run{}, err
	}
	run.StartedAt = run.StartedAt.UTC()
	if endedAt.Valid {
		ended := endedAt.Time.UTC()
		run.EndedAt = &ended
	}
	if artifactURI.Valid {
		run.ArtifactURI = artifactURI.String
	}
	params, err := decodeJSON[string](paramsJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode params: %w", err)
	}
	metrics, err := decodeJSON[float64](metricsJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode metrics: %w", err)
	}
	run.Params = params
	run.Metrics = metrics
	return run, nil
}

func buildRunSearchQuery(search repo.RunSearch) (string, []any, error) {
	experimentIDs := make([]string, 0, len(search.ExperimentIDs))
	for _, id := range search.ExperimentIDs {
		if id = strings.TrimSpace(id); id != "" {
			experimentIDs = append(experimentIDs, id)
		}
	}
	if len(experimentIDs) == 0 {
		return "", nil, errors.New("at least one experiment id is required")
	}
	filters, err := domain.ParseFilter(search.Filter)
	if err != nil {
		return "", nil, err
	}

	args := make([]any, 0, len(experimentIDs)+2*len(filters)+1)
	for _, id := range experimentIDs {
		args = append(args, id)
	}
	clauses := []string{"r.experiment_id IN (" + placeholders(1, len(experimentIDs)) + ")"}
	for _, f := range filters {
		args = append(args, f.Name, f.Value)
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM run_tags t WHERE t.run_id = r.run_id AND t.key = $%d AND t.value = $%d)",
			len(args)-1, len(args),
		))
	}

	orderBy, err := buildOrderBy(search.OrderBy)
	if err != nil {
		return "", nil, err
	}

	query := `SELECT ` + runColumns + ` FROM experiment_runs r WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY ` + orderBy
	if search.MaxResults > 0 {
		args = append(args, search.MaxResults)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args, nil
}

func buildOrderBy(orderBy []string) (string, error) {
	if len(orderBy) == 0 {
		orderBy = []string{domain.OrderByEndTimeDesc}
	}
	parts := make([]string, 0, len(orderBy)+1)
	for _, raw := range orderBy {
		fields := strings.Fields(raw)
		if len(fields) == 0 || len(fields) > 2 {
			return "", fmt.Errorf("unsupported order_by %q", raw)
		}
		name := strings.TrimPrefix(fields[0], "attributes.")
		column, ok := orderColumns[name]
		if !ok {
			return "", fmt.Errorf("unsupported order_by column %q", fields[0])
		}
		direction := "ASC"
		if len(fields) == 2 {
			direction = strings.ToUpper(fields[1])
			if direction != "ASC" && direction != "DESC" {
				return "", fmt.Errorf("unsupported order_by direction %q", fields[1])
			}
		}
		nulls := "NULLS LAST"
		if direction == "ASC" {
			nulls = "NULLS FIRST"
		}
		parts = append(parts, column+" "+direction+" "+nulls)
	}
	parts = append(parts, "r.run_id ASC")
	return strings.Join(parts, ", "), nil
}
