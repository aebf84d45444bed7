// Package repository 定义了与数据库进行数据交换的接口和实现。
package repository

import (
	"learnsmart-go/internal/model"

	"gorm.io/gorm"
)

// ParentRepository 接口定义了家长账号的持久化操作。
type ParentRepository interface {
	Create(parent *model.Parent) error
	FindByUsername(username string) (*model.Parent, error)
	FindByID(parentID uint) (*model.Parent, error)
}

// parentRepository 是 ParentRepository 接口的 GORM 实现。
type parentRepository struct {
	db *gorm.DB
}

// NewParentRepository 创建一个新的 ParentRepository 实例。
func NewParentRepository(db *gorm.DB) ParentRepository {
	return &parentRepository{db: db}
}

// Create 在数据库中创建一个新的家长记录。
func (r *parentRepository) Create(parent *model.Parent) error {
	return r.db.Create(parent).Error
}

// FindByUsername 根据用户名从数据库中查找一个家长。
func (r *parentRepository) FindByUsername(username string) (*model.Parent, error) {
	var parent model.Parent
	err := r.db.Where("username = ?", username).First(&parent).Error
	if err != nil {
		return nil, err
	}
	return &parent, nil
}

// FindByID 根据 ID 从数据库中查找一个家长。
func (r *parentRepository) FindByID(parentID uint) (*model.Parent, error) {
	var parent model.Parent
	err := r.db.First(&parent, parentID).Error
	if err != nil {
		return nil, err
	}
	return &parent, nil
}
