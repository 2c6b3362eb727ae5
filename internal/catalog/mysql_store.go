package catalog

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	xerrors "OpenAgora/internal/errors"
)

// MySQLStore 使用 MySQL 持久化智能体目录。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建连接池并初始化数据表。
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
	const schema = `CREATE TABLE IF NOT EXISTS agents (
        id VARCHAR(64) PRIMARY KEY,
        name VARCHAR(255) NOT NULL,
        capability VARCHAR(255) NOT NULL,
        price DOUBLE NOT NULL,
        endpoint VARCHAR(512) DEFAULT '',
        rating DOUBLE NOT NULL DEFAULT 5.0,
        total_jobs INT NOT NULL DEFAULT 0,
        successful_jobs INT NOT NULL DEFAULT 0,
        total_earned DOUBLE NOT NULL DEFAULT 0,
        average_latency DOUBLE NOT NULL DEFAULT 0.5,
        registered_at BIGINT NOT NULL,
        seq BIGINT NOT NULL AUTO_INCREMENT,
        UNIQUE KEY uniq_agent_identity (name, capability),
        INDEX idx_agent_capability (capability),
        KEY idx_agent_seq (seq)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 agents 表失败")
	}
	return nil
}

const agentColumns = `id, name, capability, price, endpoint, rating, total_jobs, successful_jobs, total_earned, average_latency, registered_at`

// Register 插入新的智能体记录，唯一键冲突映射为 ErrAgentConflict。
func (s *MySQLStore) Register(ctx context.Context, reg Registration) (*AgentRecord, error) {
	name := strings.TrimSpace(reg.Name)
	capability := strings.TrimSpace(reg.Capability)
	if name == "" || capability == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "智能体名称与能力不能为空")
	}
	if reg.Price < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "价格不能为负数")
	}

	agent := &AgentRecord{
		ID:             uuid.NewString(),
		Name:           name,
		Capability:     capability,
		Price:          reg.Price,
		Endpoint:       reg.Endpoint,
		Rating:         initialRating(reg.Rating),
		AverageLatency: DefaultLatency,
		RegisteredAt:   time.Now().Unix(),
	}

	const stmt = `INSERT INTO agents
        (id, name, capability, price, endpoint, rating, total_jobs, successful_jobs, total_earned, average_latency, registered_at)
        VALUES (?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		agent.ID,
		agent.Name,
		agent.Capability,
		agent.Price,
		agent.Endpoint,
		agent.Rating,
		agent.AverageLatency,
		agent.RegisteredAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return nil, ErrAgentConflict
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入智能体记录失败")
	}
	return agent, nil
}

// Get 查询指定智能体。
func (s *MySQLStore) Get(ctx context.Context, id string) (*AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体失败")
	}
	return agent, nil
}

// ListByCapability 按注册顺序返回指定能力的智能体。
func (s *MySQLStore) ListByCapability(ctx context.Context, capability string) ([]*AgentRecord, error) {
	const stmt = `SELECT ` + agentColumns + ` FROM agents WHERE capability = ? ORDER BY seq ASC`
	return s.queryAgents(ctx, stmt, capability)
}

// List 返回全部智能体。
func (s *MySQLStore) List(ctx context.Context) ([]*AgentRecord, error) {
	const stmt = `SELECT ` + agentColumns + ` FROM agents ORDER BY seq ASC`
	return s.queryAgents(ctx, stmt)
}

func (s *MySQLStore) queryAgents(ctx context.Context, stmt string, args ...any) ([]*AgentRecord, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体列表失败")
	}
	defer rows.Close()

	results := make([]*AgentRecord, 0, 8)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取智能体记录失败")
		}
		results = append(results, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历智能体记录失败")
	}
	return results, nil
}

// UpdateStats 在单个事务内完成锁定读与回写，保证按记录串行。
func (s *MySQLStore) UpdateStats(ctx context.Context, id string, update StatsUpdate) (*AgentRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启结算事务失败")
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ? FOR UPDATE`, id)
	agent, err := scanAgent(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "锁定智能体记录失败")
	}

	applyUpdate(agent, update)

	const stmt = `UPDATE agents SET rating = ?, total_jobs = ?, successful_jobs = ?, total_earned = ?, average_latency = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, stmt,
		agent.Rating,
		agent.TotalJobs,
		agent.SuccessfulJobs,
		agent.TotalEarned,
		agent.AverageLatency,
		agent.ID,
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "回写智能体统计失败")
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交结算事务失败")
	}
	return agent, nil
}

// Close 关闭数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*AgentRecord, error) {
	var agent AgentRecord
	if err := row.Scan(
		&agent.ID,
		&agent.Name,
		&agent.Capability,
		&agent.Price,
		&agent.Endpoint,
		&agent.Rating,
		&agent.TotalJobs,
		&agent.SuccessfulJobs,
		&agent.TotalEarned,
		&agent.AverageLatency,
		&agent.RegisteredAt,
	); err != nil {
		return nil, err
	}
	return &agent, nil
}

// ensure interface compliance at compile time
var _ Store = (*MySQLStore)(nil)
