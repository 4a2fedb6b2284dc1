package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"propertychat/backend/internal/domain"
	"propertychat/backend/internal/storage"
)

// ========== Message Repository ==========

// AppendMessage 追加写入一条消息。校验失败不产生任何写入。
// seq 列由数据库自增分配，保证同一时间戳下的写入顺序。
func (s *Store) AppendMessage(ctx context.Context, msg *domain.ChatMessage) error {
	if err := domain.ValidateChatMessage(msg); err != nil {
		return err
	}

	query := s.rebind(`
		INSERT INTO chat_messages (id, sender_name, sender_email, message, is_admin_reply, admin_reply, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		msg.ID,
		msg.SenderName,
		msg.SenderEmail,
		msg.Body,
		msg.IsAdminReply,
		msg.AdminReply,
		msg.CreatedAt,
		msg.UpdatedAt,
	)
	return err
}

// ListMessagesByEmail 返回某个会话的全部消息
func (s *Store) ListMessagesByEmail(ctx context.Context, senderEmail string) ([]domain.ChatMessage, error) {
	query := s.rebind(`
		SELECT id, sender_name, sender_email, message, is_admin_reply, admin_reply, created_at, updated_at
		FROM chat_messages
		WHERE sender_email = ?
		ORDER BY created_at ASC, seq ASC
	`)
	rows, err := s.db.QueryContext(ctx, query, senderEmail)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// ListAllMessages 返回全部消息
func (s *Store) ListAllMessages(ctx context.Context) ([]domain.ChatMessage, error) {
	query := `
		SELECT id, sender_name, sender_email, message, is_admin_reply, admin_reply, created_at, updated_at
		FROM chat_messages
		ORDER BY created_at ASC, seq ASC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMessages(rows)
}

// GetMessage 按 ID 查询单条消息
func (s *Store) GetMessage(ctx context.Context, id string) (*domain.ChatMessage, error) {
	query := s.rebind(`
		SELECT id, sender_name, sender_email, message, is_admin_reply, admin_reply, created_at, updated_at
		FROM chat_messages
		WHERE id = ?
	`)

	var msg domain.ChatMessage
	var adminReply sql.NullString

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&msg.ID,
		&msg.SenderName,
		&msg.SenderEmail,
		&msg.Body,
		&msg.IsAdminReply,
		&adminReply,
		&msg.CreatedAt,
		&msg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	msg.AdminReply = adminReply.String
	return &msg, nil
}

// AttachReply 把回复文本挂到指定访客消息上
func (s *Store) AttachReply(ctx context.Context, id string, reply string) (*domain.ChatMessage, error) {
	query := s.rebind(`
		UPDATE chat_messages
		SET admin_reply = ?, updated_at = ?
		WHERE id = ?
	`)
	result, err := s.db.ExecContext(ctx, query, reply, time.Now().UTC(), id)
	if err != nil {
		return nil, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, storage.ErrMessageNotFound
	}

	return s.GetMessage(ctx, id)
}

// LatestOperatorActivity 判断 since 之后是否存在客服行
func (s *Store) LatestOperatorActivity(ctx context.Context, since time.Time) (bool, error) {
	query := s.rebind(`
		SELECT 1
		FROM chat_messages
		WHERE is_admin_reply = ? AND created_at >= ?
		LIMIT 1
	`)

	var one int
	err := s.db.QueryRowContext(ctx, query, true, since).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// scanMessages 扫描多行消息记录
func scanMessages(rows *sql.Rows) ([]domain.ChatMessage, error) {
	messages := make([]domain.ChatMessage, 0)
	for rows.Next() {
		var msg domain.ChatMessage
		var adminReply sql.NullString

		if err := rows.Scan(
			&msg.ID,
			&msg.SenderName,
			&msg.SenderEmail,
			&msg.Body,
			&msg.IsAdminReply,
			&adminReply,
			&msg.CreatedAt,
			&msg.UpdatedAt,
		); err != nil {
			return nil, err
		}

		msg.AdminReply = adminReply.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
