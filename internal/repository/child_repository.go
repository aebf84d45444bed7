package repository

import (
	"learnsmart-go/internal/model"

	"gorm.io/gorm"
)

// ChildRepository 接口定义了孩子档案的持久化操作。
type ChildRepository interface {
	Create(child *model.Child) error
	FindByID(childID uint) (*model.Child, error)
	FindByParent(parentID uint) ([]model.Child, error)
}

// childRepository 是 ChildRepository 接口的 GORM 实现。
type childRepository struct {
	db *gorm.DB
}

// NewChildRepository 创建一个新的 ChildRepository 实例。
func NewChildRepository(db *gorm.DB) ChildRepository {
	return &childRepository{db: db}
}

// Create 在数据库中创建一个新的孩子档案。
func (r *childRepository) Create(child *model.Child) error {
	return r.db.Create(child).Error
}

// FindByID 根据 ID 查找孩子档案。
func (r *childRepository) FindByID(childID uint) (*model.Child, error) {
	var child model.Child
	err := r.db.First(&child, childID).Error
	if err != nil {
		return nil, err
	}
	return &child, nil
}

// FindByParent 查找某个家长名下的全部孩子档案。
func (r *childRepository) FindByParent(parentID uint) ([]model.Child, error) {
	var children []model.Child
	err := r.db.Where("parent_id = ?", parentID).Order("id").Find(&children).Error
	return children, err
}
