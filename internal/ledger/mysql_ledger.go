package ledger

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "OpenAgora/internal/errors"
)

// MySQLLedger 使用 MySQL 持久化交易账本。表结构只插入不更新。
type MySQLLedger struct {
	db *sql.DB
}

// NewMySQLLedger 创建连接池并初始化数据表。
func NewMySQLLedger(dsn string) (*MySQLLedger, error) {
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

	ledger := &MySQLLedger{db: db}
	if err := ledger.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ledger, nil
}

func (l *MySQLLedger) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS transactions (
        id VARCHAR(64) PRIMARY KEY,
        buyer_id VARCHAR(255) DEFAULT '',
        seller_id VARCHAR(64) NOT NULL,
        seller_name VARCHAR(255) NOT NULL,
        capability VARCHAR(255) NOT NULL,
        price_charged DOUBLE NOT NULL,
        outcome VARCHAR(16) NOT NULL,
        completed_at BIGINT NOT NULL,
        seq BIGINT NOT NULL AUTO_INCREMENT,
        INDEX idx_tx_seller (seller_id),
        INDEX idx_tx_buyer (buyer_id),
        KEY idx_tx_seq (seq)
)`

	if _, err := l.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 transactions 表失败")
	}
	return nil
}

// Append 插入一条交易记录。
func (l *MySQLLedger) Append(ctx context.Context, record TransactionRecord) (*TransactionRecord, error) {
	if !IsValidOutcome(record.Outcome) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "非法的交易结果")
	}
	if record.SellerID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "卖方 ID 不能为空")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CompletedAt == 0 {
		record.CompletedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO transactions
        (id, buyer_id, seller_id, seller_name, capability, price_charged, outcome, completed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := l.db.ExecContext(ctx, stmt,
		record.ID,
		record.BuyerID,
		record.SellerID,
		record.SellerName,
		record.Capability,
		record.PriceCharged,
		record.Outcome,
		record.CompletedAt,
	); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "追加交易记录失败")
	}
	clone := record
	return &clone, nil
}

// List 按追加顺序返回符合条件的交易记录。
func (l *MySQLLedger) List(ctx context.Context, opts ListOptions) ([]*TransactionRecord, error) {
	stmt := `SELECT id, buyer_id, seller_id, seller_name, capability, price_charged, outcome, completed_at FROM transactions`
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)
	if opts.SellerID != "" {
		conditions = append(conditions, "seller_id = ?")
		args = append(args, opts.SellerID)
	}
	if opts.BuyerID != "" {
		conditions = append(conditions, "buyer_id = ?")
		args = append(args, opts.BuyerID)
	}
	if opts.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, opts.Outcome)
	}
	if len(conditions) > 0 {
		stmt += " WHERE " + strings.Join(conditions, " AND ")
	}
	stmt += " ORDER BY seq ASC"
	if opts.Limit > 0 {
		stmt += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := l.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易记录失败")
	}
	defer rows.Close()

	results := make([]*TransactionRecord, 0, 16)
	for rows.Next() {
		var record TransactionRecord
		if err := rows.Scan(
			&record.ID,
			&record.BuyerID,
			&record.SellerID,
			&record.SellerName,
			&record.Capability,
			&record.PriceCharged,
			&record.Outcome,
			&record.CompletedAt,
		); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取交易记录失败")
		}
		results = append(results, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易记录失败")
	}
	return results, nil
}

// TotalEarnedBy 汇总指定卖方成功交易的金额。
func (l *MySQLLedger) TotalEarnedBy(ctx context.Context, sellerID string) (float64, error) {
	const stmt = `SELECT COALESCE(SUM(price_charged), 0) FROM transactions WHERE seller_id = ? AND outcome = ?`
	var total float64
	if err := l.db.QueryRowContext(ctx, stmt, sellerID, OutcomeSuccess).Scan(&total); err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "汇总卖方收入失败")
	}
	return total, nil
}

// Close 关闭数据库连接。
func (l *MySQLLedger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// ensure interface compliance at compile time
var _ Ledger = (*MySQLLedger)(nil)
