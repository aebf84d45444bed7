// Package model 包含了应用的数据模型定义。
package model

import "time"

// Parent 代表一个家长账号，孩子档案归属于家长。
type Parent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Username  string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Password  string    `gorm:"size:128;not null" json:"-"`
	Role      string    `gorm:"size:16;default:USER" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Parent) TableName() string {
	return "parents"
}
