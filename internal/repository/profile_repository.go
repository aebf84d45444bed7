package repository

import (
	"context"
	"learnsmart-go/internal/model"

	"gorm.io/gorm"
)

// ProfileRepository 定义了画像侧只读数据的访问。
// personality_traits / user_memory / interest_intensity 可能在新部署中尚未建表，
// 调用方对查询失败降级为空结果。
type ProfileRepository interface {
	ListTraits(ctx context.Context, childID uint) ([]model.PersonalityTrait, error)
	ProfileEntries(ctx context.Context, childID uint) (map[string]string, error)
	ChildBasics(ctx context.Context, childID uint) (map[string]string, error)
	DeepInterests(ctx context.Context, childID uint, limit int) ([]model.InterestIntensity, error)
}

// profileRepository 是 ProfileRepository 接口的 GORM 实现。
type profileRepository struct {
	db *gorm.DB
}

// NewProfileRepository 创建一个新的 ProfileRepository 实例。
func NewProfileRepository(db *gorm.DB) ProfileRepository {
	return &profileRepository{db: db}
}

// ListTraits 返回孩子的全部性格特质，按时间降序。
func (r *profileRepository) ListTraits(ctx context.Context, childID uint) ([]model.PersonalityTrait, error) {
	var traits []model.PersonalityTrait
	err := r.db.WithContext(ctx).
		Where("child_id = ?", childID).
		Order("created_at DESC, id DESC").
		Find(&traits).Error
	return traits, err
}

// ProfileEntries 返回 user_memory 中孩子的画像键值对。
func (r *profileRepository) ProfileEntries(ctx context.Context, childID uint) (map[string]string, error) {
	var entries []model.UserMemory
	err := r.db.WithContext(ctx).
		Where("child_id = ?", childID).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	profile := make(map[string]string, len(entries))
	for _, e := range entries {
		profile[e.InfoType] = e.Content
	}
	return profile, nil
}

// ChildBasics 从 children 表取基础信息，作为画像为空时的兜底。
func (r *profileRepository) ChildBasics(ctx context.Context, childID uint) (map[string]string, error) {
	var child model.Child
	err := r.db.WithContext(ctx).First(&child, childID).Error
	if err != nil {
		return nil, err
	}
	basics := map[string]string{"name": child.Name}
	if child.GradeLevel != "" {
		basics["grade"] = child.GradeLevel
	}
	if child.HealthNotes != "" {
		basics["health"] = child.HealthNotes
	}
	return basics, nil
}

// DeepInterests 返回按追问次数降序的兴趣记录。
func (r *profileRepository) DeepInterests(ctx context.Context, childID uint, limit int) ([]model.InterestIntensity, error) {
	var interests []model.InterestIntensity
	err := r.db.WithContext(ctx).
		Where("child_id = ?", childID).
		Order("inquiry_count DESC, id ASC").
		Limit(limit).
		Find(&interests).Error
	return interests, err
}
