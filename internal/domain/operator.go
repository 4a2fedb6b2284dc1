package domain

import "time"

// OperatorRole 客服角色
type OperatorRole string

const (
	RoleOperator OperatorRole = "operator"
	RoleSuper    OperatorRole = "super" // 超级管理员
)

// Operator 表示后台客服账号的业务实体
type Operator struct {
	ID           string       `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Email        string       `json:"email" gorm:"uniqueIndex;type:varchar(255);not null"`
	Username     string       `json:"username,omitempty" gorm:"type:varchar(100)"`
	PasswordHash string       `json:"-" gorm:"type:varchar(255)"` // 不返回给前端
	Role         OperatorRole `json:"role" gorm:"type:varchar(20);default:'operator';index"`
	IsActive     bool         `json:"isActive" gorm:"default:true"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	LastLoginAt  *time.Time   `json:"lastLoginAt,omitempty"`
}

// TableName 指定 GORM 表名。
func (Operator) TableName() string {
	return "operators"
}

// IsSuper 判断是否为超级管理员
func (o *Operator) IsSuper() bool {
	return o.Role == RoleSuper
}
