package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/orchestra-run/orchestra/internal/models"
)

// SQLiteConfig configures the sqlite-backed ExecutionStore connection pool.
type SQLiteConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultSQLiteConfig returns sane defaults for a single-file embedded
// database: sqlite serializes writers internally, so the pool stays small.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// SQLiteStore implements ExecutionStore using a single-file sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
	project_name TEXT PRIMARY KEY,
	project_dir  TEXT UNIQUE NOT NULL,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_executions (
	run_id             TEXT PRIMARY KEY,
	agent_name         TEXT NOT NULL,
	parent_run_id      TEXT,
	parent_agent_name  TEXT NOT NULL DEFAULT 'root',
	started_at         DATETIME NOT NULL,
	completed_at       DATETIME,
	current_state      TEXT NOT NULL DEFAULT 'generating',
	call_mode          TEXT NOT NULL DEFAULT 'synchronous',
	log_file           TEXT,
	project_dir        TEXT NOT NULL DEFAULT 'default'
);
CREATE INDEX IF NOT EXISTS idx_agent_executions_parent ON agent_executions(parent_run_id);
CREATE INDEX IF NOT EXISTS idx_agent_executions_project ON agent_executions(project_dir);

CREATE TABLE IF NOT EXISTS tool_executions (
	invocation_id TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	tool_name     TEXT NOT NULL,
	parameters    TEXT NOT NULL,
	call_mode     TEXT NOT NULL,
	started_at    DATETIME NOT NULL,
	completed_at  DATETIME,
	result        TEXT
);
CREATE INDEX IF NOT EXISTS idx_tool_executions_run ON tool_executions(run_id);

CREATE TABLE IF NOT EXISTS schedules (
	schedule_id TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	project_dir TEXT NOT NULL,
	agent_name  TEXT NOT NULL,
	message     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	interval    INTEGER NOT NULL,
	start_from  DATETIME,
	enabled     INTEGER NOT NULL DEFAULT 1,
	last_run_at DATETIME,
	next_run_at DATETIME NOT NULL,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(enabled, next_run_at);
`

// NewSQLiteStore opens (creating if necessary) a sqlite database at path
// and ensures the schema exists. Tables and indexes are created with
// IF NOT EXISTS; an existing table is not altered, so a column missing
// from an older database file is not added on startup.
func NewSQLiteStore(path string, cfg *SQLiteConfig) (*SQLiteStore, error) {
	if cfg == nil {
		cfg = DefaultSQLiteConfig()
	}
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.ensureDefaultProject(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureDefaultProject(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (project_name, project_dir, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_name) DO NOTHING
	`, models.DefaultProjectName, models.DefaultProjectName, time.Now())
	if err != nil {
		return fmt.Errorf("seed default project: %w", err)
	}
	return nil
}

// Close releases database resources.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// -- Projects --

func (s *SQLiteStore) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (project_name, project_dir, created_at) VALUES (?, ?, ?)
	`, p.ProjectName, p.ProjectDir, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, projectName string) (*models.Project, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_name, project_dir, created_at FROM projects WHERE project_name = ?
	`, projectName)
	var p models.Project
	if err := row.Scan(&p.ProjectName, &p.ProjectDir, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_name, project_dir, created_at FROM projects ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ProjectName, &p.ProjectDir, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) DeleteProject(ctx context.Context, projectName string) error {
	if projectName == models.DefaultProjectName {
		return fmt.Errorf("the default project cannot be deleted")
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE project_name = ?`, projectName)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// -- AgentRuns --

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.AgentRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_executions
			(run_id, agent_name, parent_run_id, parent_agent_name, started_at,
			 completed_at, current_state, call_mode, log_file, project_dir)
		VALUES (?,?,?,?,?,?,?,?,?,?)
	`,
		run.RunID, run.AgentName, nullableStringPtr(run.ParentRunID), run.ParentAgentName,
		run.StartedAt, nullTimePtr(run.CompletedAt), string(run.CurrentState),
		string(run.CallMode), nullableString(run.LogFile), run.ProjectDir,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.AgentRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agent_executions SET
			agent_name = ?, parent_run_id = ?, parent_agent_name = ?, started_at = ?,
			completed_at = ?, current_state = ?, call_mode = ?, log_file = ?, project_dir = ?
		WHERE run_id = ?
	`,
		run.AgentName, nullableStringPtr(run.ParentRunID), run.ParentAgentName, run.StartedAt,
		nullTimePtr(run.CompletedAt), string(run.CurrentState), string(run.CallMode),
		nullableString(run.LogFile), run.ProjectDir, run.RunID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*models.AgentRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, agent_name, parent_run_id, parent_agent_name, started_at,
		       completed_at, current_state, call_mode, log_file, project_dir
		FROM agent_executions WHERE run_id = ?
	`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *SQLiteStore) ListRunsByProject(ctx context.Context, projectDir string, onlyIncomplete bool) ([]*models.AgentRun, error) {
	query := `
		SELECT run_id, agent_name, parent_run_id, parent_agent_name, started_at,
		       completed_at, current_state, call_mode, log_file, project_dir
		FROM agent_executions WHERE (? = '' OR project_dir = ?)`
	if onlyIncomplete {
		query += ` AND completed_at IS NULL`
	}
	query += ` ORDER BY started_at ASC`

	rows, err := s.db.QueryContext(ctx, query, projectDir, projectDir)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return scanRuns(rows)
}

// Descendants returns every run transitively parented by rootRunID. It
// reads the whole agent_executions table, across all projects, in one query
// and walks the parent edges in memory, since a child's parent always
// predates it (no cycles are possible).
func (s *SQLiteStore) Descendants(ctx context.Context, rootRunID string) ([]*models.AgentRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, agent_name, parent_run_id, parent_agent_name, started_at,
		       completed_at, current_state, call_mode, log_file, project_dir
		FROM agent_executions
	`)
	if err != nil {
		return nil, fmt.Errorf("descendants: %w", err)
	}
	defer rows.Close()

	all, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}

	childrenOf := make(map[string][]*models.AgentRun)
	for _, r := range all {
		if r.ParentRunID != nil {
			childrenOf[*r.ParentRunID] = append(childrenOf[*r.ParentRunID], r)
		}
	}

	var result []*models.AgentRun
	frontier := []string{rootRunID}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, child := range childrenOf[next] {
			result = append(result, child)
			frontier = append(frontier, child.RunID)
		}
	}
	return result, nil
}

// -- ToolInvocations --

func (s *SQLiteStore) CreateToolInvocation(ctx context.Context, inv *models.ToolInvocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_executions
			(invocation_id, run_id, tool_name, parameters, call_mode, started_at, completed_at, result)
		VALUES (?,?,?,?,?,?,?,?)
	`, inv.InvocationID, inv.RunID, inv.ToolName, inv.Parameters, string(inv.CallMode),
		inv.StartedAt, nullTimePtr(inv.CompletedAt), nullableStringPtr(inv.Result))
	if err != nil {
		return fmt.Errorf("create tool invocation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateToolInvocation(ctx context.Context, inv *models.ToolInvocation) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tool_executions SET
			tool_name = ?, parameters = ?, call_mode = ?, started_at = ?,
			completed_at = ?, result = ?
		WHERE invocation_id = ?
	`, inv.ToolName, inv.Parameters, string(inv.CallMode), inv.StartedAt,
		nullTimePtr(inv.CompletedAt), nullableStringPtr(inv.Result), inv.InvocationID)
	if err != nil {
		return fmt.Errorf("update tool invocation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListToolInvocations(ctx context.Context, runID string) ([]*models.ToolInvocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT invocation_id, run_id, tool_name, parameters, call_mode, started_at, completed_at, result
		FROM tool_executions WHERE run_id = ? ORDER BY started_at ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tool invocations: %w", err)
	}
	defer rows.Close()

	var invs []*models.ToolInvocation
	for rows.Next() {
		inv, err := scanToolInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool invocation: %w", err)
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// -- Schedules --

func (s *SQLiteStore) CreateSchedule(ctx context.Context, sch *models.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules
			(schedule_id, name, project_dir, agent_name, message, kind, interval,
			 start_from, enabled, last_run_at, next_run_at, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
	`, sch.ScheduleID, sch.Name, sch.ProjectDir, sch.AgentName, sch.Message,
		string(sch.Kind), sch.Interval, nullTimePtr(sch.StartFrom), boolToInt(sch.Enabled),
		nullTimePtr(sch.LastRunAt), sch.NextRunAt, sch.CreatedAt, sch.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create schedule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateSchedule(ctx context.Context, sch *models.Schedule) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE schedules SET
			name = ?, project_dir = ?, agent_name = ?, message = ?, kind = ?, interval = ?,
			start_from = ?, enabled = ?, last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE schedule_id = ?
	`, sch.Name, sch.ProjectDir, sch.AgentName, sch.Message, string(sch.Kind), sch.Interval,
		nullTimePtr(sch.StartFrom), boolToInt(sch.Enabled), nullTimePtr(sch.LastRunAt),
		sch.NextRunAt, sch.UpdatedAt, sch.ScheduleID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSchedule(ctx context.Context, scheduleID string) (*models.Schedule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT schedule_id, name, project_dir, agent_name, message, kind, interval,
		       start_from, enabled, last_run_at, next_run_at, created_at, updated_at
		FROM schedules WHERE schedule_id = ?
	`, scheduleID)
	sch, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sch, nil
}

func (s *SQLiteStore) ListSchedules(ctx context.Context) ([]*models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schedule_id, name, project_dir, agent_name, message, kind, interval,
		       start_from, enabled, last_run_at, next_run_at, created_at, updated_at
		FROM schedules ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *SQLiteStore) DueSchedules(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schedule_id, name, project_dir, agent_name, message, kind, interval,
		       start_from, enabled, last_run_at, next_run_at, created_at, updated_at
		FROM schedules WHERE enabled = 1 AND next_run_at <= ? ORDER BY next_run_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("due schedules: %w", err)
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func (s *SQLiteStore) DeleteSchedule(ctx context.Context, scheduleID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE schedule_id = ?`, scheduleID)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

// -- scanning helpers --

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(r rowScanner) (*models.AgentRun, error) {
	var (
		run          models.AgentRun
		state        string
		callMode     string
		parentRunID  sql.NullString
		completedAt  sql.NullTime
		logFile      sql.NullString
	)
	if err := r.Scan(
		&run.RunID, &run.AgentName, &parentRunID, &run.ParentAgentName, &run.StartedAt,
		&completedAt, &state, &callMode, &logFile, &run.ProjectDir,
	); err != nil {
		return nil, err
	}
	run.CurrentState = models.RunState(state)
	run.CallMode = models.CallMode(callMode)
	if parentRunID.Valid {
		v := parentRunID.String
		run.ParentRunID = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		run.CompletedAt = &v
	}
	if logFile.Valid {
		run.LogFile = logFile.String
	}
	return &run, nil
}

func scanRuns(rows *sql.Rows) ([]*models.AgentRun, error) {
	var runs []*models.AgentRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanToolInvocation(r rowScanner) (*models.ToolInvocation, error) {
	var (
		inv         models.ToolInvocation
		callMode    string
		completedAt sql.NullTime
		result      sql.NullString
	)
	if err := r.Scan(
		&inv.InvocationID, &inv.RunID, &inv.ToolName, &inv.Parameters, &callMode,
		&inv.StartedAt, &completedAt, &result,
	); err != nil {
		return nil, err
	}
	inv.CallMode = models.CallMode(callMode)
	if completedAt.Valid {
		v := completedAt.Time
		inv.CompletedAt = &v
	}
	if result.Valid {
		v := result.String
		inv.Result = &v
	}
	return &inv, nil
}

func scanSchedule(r rowScanner) (*models.Schedule, error) {
	var (
		sch        models.Schedule
		kind       string
		interval   int
		startFrom  sql.NullTime
		enabled    int
		lastRunAt  sql.NullTime
	)
	if err := r.Scan(
		&sch.ScheduleID, &sch.Name, &sch.ProjectDir, &sch.AgentName, &sch.Message,
		&kind, &interval, &startFrom, &enabled, &lastRunAt, &sch.NextRunAt,
		&sch.CreatedAt, &sch.UpdatedAt,
	); err != nil {
		return nil, err
	}
	sch.Kind = models.ScheduleKind(kind)
	sch.Interval = interval
	sch.Enabled = enabled != 0
	if startFrom.Valid {
		v := startFrom.Time
		sch.StartFrom = &v
	}
	if lastRunAt.Valid {
		v := lastRunAt.Time
		sch.LastRunAt = &v
	}
	return &sch, nil
}

func scanSchedules(rows *sql.Rows) ([]*models.Schedule, error) {
	var schedules []*models.Schedule
	for rows.Next() {
		sch, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, sch)
	}
	return schedules, rows.Err()
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullableStringPtr(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return nullableString(*v)
}

func nullTimePtr(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
