package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentVault-Core/internal/errors"
	"AgentVault-Core/internal/escrow"
)

// EscrowStore 使用 MySQL 持久化托管单,实现 escrow.Store。金额
// 冗余为 DECIMAL(65,0) 标量列供对账查询,JSON 文档仍是权威数据。
type EscrowStore struct {
	db *sql.DB
}

// NewEscrowStore 基于已打开的连接池创建存储。
func NewEscrowStore(db *sql.DB) *EscrowStore {
	return &EscrowStore{db: db}
}

// Create 实现 escrow.Store。
func (s *EscrowStore) Create(ctx context.Context, record *escrow.Escrow) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "escrow 不能为空")
	}
	document, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码 escrow 文档失败")
	}

	const stmt = `INSERT INTO escrows
        (id, buyer, seller, token, state, amount, fee, deadline, document, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		record.ID,
		record.Buyer,
		record.Seller,
		record.Token,
		string(record.State),
		record.Amount.String(),
		record.Fee.String(),
		record.Deadline,
		document,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return escrow.ErrEscrowExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 escrow 失败")
	}
	return nil
}

// Get 实现 escrow.Store。
func (s *EscrowStore) Get(ctx context.Context, id string) (*escrow.Escrow, error) {
	const stmt = `SELECT document FROM escrows WHERE id = ?`

	var document []byte
	err := s.db.QueryRowContext(ctx, stmt, id).Scan(&document)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, escrow.ErrEscrowNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 escrow 失败")
	}

	var record escrow.Escrow
	if err := json.Unmarshal(document, &record); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码 escrow 文档失败")
	}
	return &record, nil
}

// Update 实现 escrow.Store。
func (s *EscrowStore) Update(ctx context.Context, record *escrow.Escrow) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "escrow 不能为空")
	}
	document, err := json.Marshal(record)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码 escrow 文档失败")
	}

	const stmt = `UPDATE escrows
        SET state = ?, document = ?, updated_at = ?
        WHERE id = ?`

	result, err := s.db.ExecContext(ctx, stmt,
		string(record.State),
		document,
		record.UpdatedAt,
		record.ID,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新 escrow 失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "确认 escrow 更新结果失败")
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM escrows WHERE id = ?`, record.ID).Scan(&exists)
		if stdErrors.Is(err, sql.ErrNoRows) {
			return escrow.ErrEscrowNotFound
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "确认 escrow 存在性失败")
		}
	}
	return nil
}
