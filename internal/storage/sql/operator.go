package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/storage"
)

// ========== Operator Repository ==========

// CreateOperator 创建客服账号
func (s *Store) CreateOperator(ctx context.Context, op *domain.Operator) error {
	if _, err := s.GetOperatorByEmail(ctx, op.Email); err == nil {
		return storage.ErrEmailExists
	}

	query := s.rebind(`
		INSERT INTO operators (id, email, username, password_hash, role, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		op.ID,
		op.Email,
		op.Username,
		op.PasswordHash,
		op.Role,
		op.IsActive,
		op.CreatedAt,
		op.UpdatedAt,
	)
	return err
}

// GetOperatorByID 根据ID获取客服账号
func (s *Store) GetOperatorByID(ctx context.Context, id string) (*domain.Operator, error) {
	query := s.rebind(`
		SELECT id, email, username, password_hash, role, is_active, created_at, updated_at, last_login_at
		FROM operators
		WHERE id = ?
	`)
	return s.scanOperator(s.db.QueryRowContext(ctx, query, id))
}

// GetOperatorByEmail 根据邮箱获取客服账号
func (s *Store) GetOperatorByEmail(ctx context.Context, email string) (*domain.Operator, error) {
	query := s.rebind(`
		SELECT id, email, username, password_hash, role, is_active, created_at, updated_at, last_login_at
		FROM operators
		WHERE email = ?
	`)
	return s.scanOperator(s.db.QueryRowContext(ctx, query, email))
}

// UpdateOperator 更新客服账号
func (s *Store) UpdateOperator(ctx context.Context, op *domain.Operator) error {
	query := s.rebind(`
		UPDATE operators
		SET email = ?, username = ?, password_hash = ?, role = ?, is_active = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.ExecContext(ctx, query,
		op.Email,
		op.Username,
		op.PasswordHash,
		op.Role,
		op.IsActive,
		time.Now().UTC(),
		op.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrOperatorNotFound
	}
	return nil
}

// UpdateOperatorLastLogin 更新最近登录时间
func (s *Store) UpdateOperatorLastLogin(ctx context.Context, id string, at time.Time) error {
	query := s.rebind(`
		UPDATE operators
		SET last_login_at = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.ExecContext(ctx, query, at, time.Now().UTC(), id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return storage.ErrOperatorNotFound
	}
	return nil
}

func (s *Store) scanOperator(row *sql.Row) (*domain.Operator, error) {
	var op domain.Operator
	var lastLoginAt sql.NullTime

	err := row.Scan(
		&op.ID,
		&op.Email,
		&op.Username,
		&op.PasswordHash,
		&op.Role,
		&op.IsActive,
		&op.CreatedAt,
		&op.UpdatedAt,
		&lastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrOperatorNotFound
	}
	if err != nil {
		return nil, err
	}

	if lastLoginAt.Valid {
		op.LastLoginAt = &lastLoginAt.Time
	}
	return &op, nil
}
