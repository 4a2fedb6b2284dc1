package domain

import "time"

// ChatMessage 表示一条客服会话消息。
//
// SenderEmail 是会话键：同一访客的所有消息（含客服回复行）共享同一个
// SenderEmail。客服回复以 IsAdminReply=true 的追加行写入；历史数据中
// 还存在直接挂在访客消息上的 AdminReply 字段（旧编码，仍然兼容读取）。
type ChatMessage struct {
	ID string `json:"id" gorm:"primaryKey;type:varchar(36)"`
	// Seq 存储层自增序号。created_at 相同的行按 Seq 保持写入顺序。
	Seq          int64     `json:"-" gorm:"autoIncrement;uniqueIndex"`
	SenderName   string    `json:"senderName" gorm:"type:varchar(100);not null"`
	SenderEmail  string    `json:"senderEmail" gorm:"type:varchar(255);index;not null"`
	Body         string    `json:"message" gorm:"column:message;type:text;not null"`
	IsAdminReply bool      `json:"isAdminReply" gorm:"default:false;index"`
	AdminReply   string    `json:"adminReply,omitempty" gorm:"column:admin_reply;type:text"`
	CreatedAt    time.Time `json:"createdAt" gorm:"index"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// TableName 指定 GORM 表名。
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// FromOperator 判断该行是否为客服发出。
func (m *ChatMessage) FromOperator() bool {
	return m.IsAdminReply
}

// Answered 判断访客消息是否已被回复（仅对访客行有意义）。
func (m *ChatMessage) Answered() bool {
	return m.AdminReply != ""
}
