package job

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "OpenAgora/internal/errors"
	"OpenAgora/internal/selection"
)

// MySQLStore 使用 MySQL 记录任务状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS job_states (
        id VARCHAR(64) PRIMARY KEY,
        buyer_id VARCHAR(255) NOT NULL,
        capability VARCHAR(255) NOT NULL,
        payload TEXT,
        weights TEXT,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        result_artifact MEDIUMTEXT,
        result_seller_id VARCHAR(64) DEFAULT '',
        result_seller_name VARCHAR(255) DEFAULT '',
        result_price DOUBLE NOT NULL DEFAULT 0,
        result_total_cost DOUBLE NOT NULL DEFAULT 0,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_job_status (status),
        INDEX idx_job_buyer (buyer_id),
        INDEX idx_job_capability (capability),
        INDEX idx_job_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 job_states 表失败")
	}
	return nil
}

// Create 插入新的任务记录。
func (s *MySQLStore) Create(ctx context.Context, j *Job) error {
	if j == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(j.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := time.Now().Unix()
	j.CreatedAt = now
	j.UpdatedAt = now

	weightsValue, err := marshalWeights(j.Weights)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务权重失败")
	}

	const stmt = `INSERT INTO job_states
        (id, buyer_id, capability, payload, weights, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		j.ID,
		j.BuyerID,
		j.Capability,
		j.Payload,
		weightsValue,
		j.Status,
		j.Attempts,
		j.MaxRetries,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Job, error) {
	const stmt = `SELECT id, buyer_id, capability, payload, weights, status, attempts, max_retries, last_error, error_code,
        result_artifact, result_seller_id, result_seller_name, result_price, result_total_cost, created_at, updated_at
        FROM job_states WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id)
	j, err := scanJob(row.Scan)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return j, nil
}

// Claim 将任务标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Job, error) {
	const updateStmt = `UPDATE job_states SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		j, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch j.Status {
		case StatusSucceeded:
			return j, ErrJobCompleted
		case StatusRunning:
			return j, ErrJobConflict
		default:
			if j.Attempts >= j.MaxRetries {
				return j, ErrJobExhausted
			}
			return j, ErrJobConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkSucceeded 将任务标记为成功。
func (s *MySQLStore) MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error {
	const stmt = `UPDATE job_states SET status = ?, result_artifact = ?, result_seller_id = ?, result_seller_name = ?,
        result_price = ?, result_total_cost = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusSucceeded,
		result.Artifact,
		result.SellerID,
		result.SellerName,
		result.PriceCharged,
		result.TotalCost,
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed 将任务标记为失败。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, _ bool) error {
	const stmt = `UPDATE job_states SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		StatusFailed,
		lastError,
		string(code),
		now,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List 返回符合过滤条件的任务。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	query := `SELECT id, buyer_id, capability, payload, weights, status, attempts, max_retries, last_error, error_code,
        result_artifact, result_seller_id, result_seller_name, result_price, result_total_cost, created_at, updated_at FROM job_states`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, opts.Limit)
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return jobs, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (JobStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS running,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS succeeded,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS failed,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM job_states`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats JobStats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return JobStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var j Job
	var result ExecutionResult
	var payload, weights, lastError, artifact sql.NullString

	if err := scan(
		&j.ID,
		&j.BuyerID,
		&j.Capability,
		&payload,
		&weights,
		&j.Status,
		&j.Attempts,
		&j.MaxRetries,
		&lastError,
		&j.ErrorCode,
		&artifact,
		&result.SellerID,
		&result.SellerName,
		&result.PriceCharged,
		&result.TotalCost,
		&j.CreatedAt,
		&j.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
	}

	j.Payload = payload.String
	j.LastError = lastError.String
	result.Artifact = artifact.String

	decoded, err := unmarshalWeights(weights)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务权重失败")
	}
	j.Weights = decoded

	if result.Artifact != "" || result.SellerID != "" || result.SellerName != "" {
		j.Result = &result
	}
	return &j, nil
}

func marshalWeights(weights *selection.Weights) (sql.NullString, error) {
	if weights == nil {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(weights)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

func unmarshalWeights(raw sql.NullString) (*selection.Weights, error) {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil, nil
	}
	var weights selection.Weights
	if err := json.Unmarshal([]byte(raw.String), &weights); err != nil {
		return nil, err
	}
	return &weights, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, status)
		}
	}
	if opts.BuyerID != "" {
		conditions = append(conditions, "buyer_id = ?")
		args = append(args, opts.BuyerID)
	}
	if opts.Capability != "" {
		conditions = append(conditions, "capability = ?")
		args = append(args, opts.Capability)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "(result_artifact <> '' OR result_seller_id <> '' OR result_seller_name <> '')")
		} else {
			conditions = append(conditions, "((result_artifact IS NULL OR result_artifact = '') AND result_seller_id = '' AND result_seller_name = '')")
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
