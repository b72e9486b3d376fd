package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"

	"github.com/go-sql-driver/mysql"

	xerrors "AgentVault-Core/internal/errors"
	"AgentVault-Core/internal/policy"
)

// SubjectStore 使用 MySQL 持久化钱包策略记录,实现 policy.Store。
// 完整的 Subject 以 JSON 文档落盘,金额在文档内是十进制数字,
// 经由 big.Int 无损往返;外层冗余几个标量列用于查询。
type SubjectStore struct {
	db *sql.DB
}

// NewSubjectStore 基于已打开的连接池创建存储。
func NewSubjectStore(db *sql.DB) *SubjectStore {
	return &SubjectStore{db: db}
}

// Create 实现 policy.Store。
func (s *SubjectStore) Create(ctx context.Context, subject *policy.Subject) error {
	if subject == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "subject 不能为空")
	}
	document, err := json.Marshal(subject)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码 subject 文档失败")
	}

	const stmt = `INSERT INTO policy_subjects
        (id, owner, controller, recovery, paused, document, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		subject.ID,
		subject.Owner,
		subject.Controller,
		subject.Recovery,
		subject.Paused,
		document,
		subject.CreatedAt,
		subject.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return policy.ErrSubjectExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 subject 失败")
	}
	return nil
}

// Get 实现 policy.Store。
func (s *SubjectStore) Get(ctx context.Context, id string) (*policy.Subject, error) {
	const stmt = `SELECT document FROM policy_subjects WHERE id = ?`

	var document []byte
	err := s.db.QueryRowContext(ctx, stmt, id).Scan(&document)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrSubjectNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 subject 失败")
	}

	var subject policy.Subject
	if err := json.Unmarshal(document, &subject); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码 subject 文档失败")
	}
	return &subject, nil
}

// Update 实现 policy.Store。
func (s *SubjectStore) Update(ctx context.Context, subject *policy.Subject) error {
	if subject == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "subject 不能为空")
	}
	document, err := json.Marshal(subject)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码 subject 文档失败")
	}

	const stmt = `UPDATE policy_subjects
        SET owner = ?, controller = ?, recovery = ?, paused = ?, document = ?, updated_at = ?
        WHERE id = ?`

	result, err := s.db.ExecContext(ctx, stmt,
		subject.Owner,
		subject.Controller,
		subject.Recovery,
		subject.Paused,
		document,
		subject.UpdatedAt,
		subject.ID,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新 subject 失败")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "确认 subject 更新结果失败")
	}
	if affected == 0 {
		// 无变化的 UPDATE 也返回 0 行，需要区分行不存在。
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM policy_subjects WHERE id = ?`, subject.ID).Scan(&exists)
		if stdErrors.Is(err, sql.ErrNoRows) {
			return policy.ErrSubjectNotFound
		}
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "确认 subject 存在性失败")
		}
	}
	return nil
}
