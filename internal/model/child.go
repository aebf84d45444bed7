package model

import "time"

// Child 代表一个孩子档案。所有五维成长记录都以 child_id 为作用域。
type Child struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	ParentID    uint      `gorm:"index;not null" json:"parentId"`
	Name        string    `gorm:"size:50;not null" json:"name"`
	GradeLevel  string    `gorm:"size:32" json:"gradeLevel"`
	HealthNotes string    `gorm:"type:text" json:"healthNotes"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Child) TableName() string {
	return "children"
}
