package repository

import (
	"context"
	"learnsmart-go/internal/model"
	"time"

	"gorm.io/gorm"
)

// GrowthRepository 定义了五维成长记录的写入与按孩子聚合读取。
// 所有读取都接受可选的起始时间（nil 表示不限窗口）。
type GrowthRepository interface {
	CreateKnowledgePoint(ctx context.Context, kp *model.KnowledgePoint) error
	CreateWritingMaterial(ctx context.Context, wm *model.WritingMaterial) error
	CreateSocialEvent(ctx context.Context, se *model.SocialEvent) error
	CreateEmotion(ctx context.Context, em *model.Emotion) error

	LearningStats(ctx context.Context, childID uint, since *time.Time) (map[string]int64, error)
	SubjectStats(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.SubjectStat, error)
	RecentKnowledge(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.KnowledgePoint, error)
	RecentWritingMaterials(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.WritingMaterial, error)
	FrequentLocations(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.LocationStat, error)
	RelationshipStats(ctx context.Context, childID uint, since *time.Time) (map[string]int64, error)
	BehaviorStats(ctx context.Context, childID uint, since *time.Time) ([]model.BehaviorStat, error)
	RecentSocialEvents(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.SocialEvent, error)
	EmotionStats(ctx context.Context, childID uint, since *time.Time) ([]model.EmotionStat, error)
	RecentEmotions(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.Emotion, error)
}

// growthRepository 是 GrowthRepository 接口的 GORM 实现。
type growthRepository struct {
	db *gorm.DB
}

// NewGrowthRepository 创建一个新的 GrowthRepository 实例。
func NewGrowthRepository(db *gorm.DB) GrowthRepository {
	return &growthRepository{db: db}
}

func (r *growthRepository) CreateKnowledgePoint(ctx context.Context, kp *model.KnowledgePoint) error {
	return r.db.WithContext(ctx).Create(kp).Error
}

func (r *growthRepository) CreateWritingMaterial(ctx context.Context, wm *model.WritingMaterial) error {
	return r.db.WithContext(ctx).Create(wm).Error
}

func (r *growthRepository) CreateSocialEvent(ctx context.Context, se *model.SocialEvent) error {
	return r.db.WithContext(ctx).Create(se).Error
}

func (r *growthRepository) CreateEmotion(ctx context.Context, em *model.Emotion) error {
	return r.db.WithContext(ctx).Create(em).Error
}

// scoped 构造按孩子和可选时间窗过滤的查询。
func (r *growthRepository) scoped(ctx context.Context, tableModel interface{}, childID uint, since *time.Time) *gorm.DB {
	q := r.db.WithContext(ctx).Model(tableModel).Where("child_id = ?", childID)
	if since != nil {
		q = q.Where("created_at >= ?", *since)
	}
	return q
}

// LearningStats 按来源统计知识点数量（active/passive）。
func (r *growthRepository) LearningStats(ctx context.Context, childID uint, since *time.Time) (map[string]int64, error) {
	var rows []struct {
		Source string
		Count  int64
	}
	err := r.scoped(ctx, &model.KnowledgePoint{}, childID, since).
		Select("source, COUNT(*) as count").
		Group("source").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(rows))
	for _, row := range rows {
		stats[row.Source] = row.Count
	}
	return stats, nil
}

// SubjectStats 统计学科分布，按次数降序，学科名升序兜底保证稳定。
func (r *growthRepository) SubjectStats(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.SubjectStat, error) {
	var stats []model.SubjectStat
	err := r.scoped(ctx, &model.KnowledgePoint{}, childID, since).
		Select("subject, COUNT(*) as count, AVG(confidence_score) as avg_confidence").
		Group("subject").
		Order("count DESC, subject ASC").
		Limit(limit).
		Scan(&stats).Error
	return stats, err
}

// RecentKnowledge 返回最近的知识点记录，按时间降序。
func (r *growthRepository) RecentKnowledge(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.KnowledgePoint, error) {
	var points []model.KnowledgePoint
	err := r.scoped(ctx, &model.KnowledgePoint{}, childID, since).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&points).Error
	return points, err
}

// RecentWritingMaterials 返回最近的作文素材，按时间降序。
func (r *growthRepository) RecentWritingMaterials(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.WritingMaterial, error) {
	var materials []model.WritingMaterial
	err := r.scoped(ctx, &model.WritingMaterial{}, childID, since).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&materials).Error
	return materials, err
}

// FrequentLocations 统计常去地点，按次数降序。
func (r *growthRepository) FrequentLocations(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.LocationStat, error) {
	var locations []model.LocationStat
	err := r.scoped(ctx, &model.WritingMaterial{}, childID, since).
		Select("location, COUNT(*) as count").
		Where("location IS NOT NULL AND location <> ''").
		Group("location").
		Order("count DESC, location ASC").
		Limit(limit).
		Scan(&locations).Error
	return locations, err
}

// RelationshipStats 按关系类型统计社交事件数量。
func (r *growthRepository) RelationshipStats(ctx context.Context, childID uint, since *time.Time) (map[string]int64, error) {
	var rows []struct {
		RelationshipType string
		Count            int64
	}
	err := r.scoped(ctx, &model.SocialEvent{}, childID, since).
		Select("relationship_type, COUNT(*) as count").
		Group("relationship_type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(rows))
	for _, row := range rows {
		stats[row.RelationshipType] = row.Count
	}
	return stats, nil
}

// BehaviorStats 统计行为模式，按次数降序。
func (r *growthRepository) BehaviorStats(ctx context.Context, childID uint, since *time.Time) ([]model.BehaviorStat, error) {
	var behaviors []model.BehaviorStat
	err := r.scoped(ctx, &model.SocialEvent{}, childID, since).
		Select("behavior_pattern as pattern, COUNT(*) as count").
		Where("behavior_pattern IS NOT NULL AND behavior_pattern <> ''").
		Group("behavior_pattern").
		Order("count DESC, pattern ASC").
		Scan(&behaviors).Error
	return behaviors, err
}

// RecentSocialEvents 返回最近的社交事件，按时间降序。
func (r *growthRepository) RecentSocialEvents(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.SocialEvent, error) {
	var events []model.SocialEvent
	err := r.scoped(ctx, &model.SocialEvent{}, childID, since).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// EmotionStats 按情绪类型统计数量与平均强度，类型名升序保证稳定。
func (r *growthRepository) EmotionStats(ctx context.Context, childID uint, since *time.Time) ([]model.EmotionStat, error) {
	var stats []model.EmotionStat
	err := r.scoped(ctx, &model.Emotion{}, childID, since).
		Select("emotion_type as type, COUNT(*) as count, AVG(intensity) as avg_intensity").
		Group("emotion_type").
		Order("count DESC, type ASC").
		Scan(&stats).Error
	return stats, err
}

// RecentEmotions 返回最近的情绪记录，按时间降序。
func (r *growthRepository) RecentEmotions(ctx context.Context, childID uint, since *time.Time, limit int) ([]model.Emotion, error) {
	var emotions []model.Emotion
	err := r.scoped(ctx, &model.Emotion{}, childID, since).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&emotions).Error
	return emotions, err
}
