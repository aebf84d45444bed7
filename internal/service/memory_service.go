// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"learnsmart-go/internal/model"
	"learnsmart-go/internal/repository"
	"learnsmart-go/pkg/log"
	"math"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// 各分类的截取与条数上限，约束 prompt 体积。
const (
	subjectTopN         = 5
	recentKnowledgeN    = 3
	recentMaterialsN    = 5
	frequentLocationsN  = 3
	recentSocialN       = 3
	recentEmotionsN     = 5
	deepInterestsN      = 5
	snippetRuneBudget   = 50
	summaryCachePattern = "memory:summary:%d:%d"
)

// SummaryCache 抽象摘要文本的缓存读写。
type SummaryCache interface {
	// Get 返回缓存文本，未命中或读取失败时 ok 为 false。
	Get(ctx context.Context, key string) (value string, ok bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	DeleteByPattern(ctx context.Context, pattern string)
}

// redisSummaryCache 是 SummaryCache 的 Redis 实现。
type redisSummaryCache struct {
	client *redis.Client
}

// NewRedisSummaryCache 用给定的 Redis 客户端创建摘要缓存。
func NewRedisSummaryCache(client *redis.Client) SummaryCache {
	return &redisSummaryCache{client: client}
}

func (c *redisSummaryCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Warnf("读取摘要缓存失败: key=%s, err=%v", key, err)
		}
		return "", false
	}
	return val, true
}

func (c *redisSummaryCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		log.Warnf("写入摘要缓存失败: key=%s, err=%v", key, err)
	}
}

// DeleteByPattern 用 SCAN 游标遍历匹配的键后删除，避免阻塞的 KEYS 命令。
func (c *redisSummaryCache) DeleteByPattern(ctx context.Context, pattern string) {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Warnf("扫描摘要缓存失败: pattern=%s, err=%v", pattern, err)
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			log.Warnf("清除摘要缓存失败: pattern=%s, err=%v", pattern, err)
		}
	}
}

// MemoryService 定义了记忆聚合的操作接口。
type MemoryService interface {
	// GetSnapshot 聚合孩子最近 days 天的五维数据，days<=0 表示不限窗口。
	GetSnapshot(ctx context.Context, childID uint, days int) (*model.MemorySnapshot, error)
	// Summarize 将快照渲染为可直接注入 system prompt 的摘要文本。
	// 对同一份数据快照输出逐字节一致。
	Summarize(ctx context.Context, childID uint, days int) (string, error)
	// InvalidateSummary 在写入新记录后清除孩子的摘要缓存。
	InvalidateSummary(ctx context.Context, childID uint)
}

// memoryService 是 MemoryService 接口的实现。cache 为 nil 时不启用缓存。
type memoryService struct {
	growthRepo  repository.GrowthRepository
	profileRepo repository.ProfileRepository
	cache       SummaryCache
	cacheTTL    time.Duration
}

// NewMemoryService 创建一个新的 MemoryService 实例。
func NewMemoryService(growthRepo repository.GrowthRepository, profileRepo repository.ProfileRepository, cache SummaryCache, cacheTTL time.Duration) MemoryService {
	return &memoryService{
		growthRepo:  growthRepo,
		profileRepo: profileRepo,
		cache:       cache,
		cacheTTL:    cacheTTL,
	}
}

// GetSnapshot 聚合五维数据。单个分类的查询失败只降级为空结果，
// 不中断整体聚合（新部署可能缺少画像侧的表）。
func (s *memoryService) GetSnapshot(ctx context.Context, childID uint, days int) (*model.MemorySnapshot, error) {
	var since *time.Time
	if days > 0 {
		cutoff := time.Now().AddDate(0, 0, -days)
		since = &cutoff
	}

	snapshot := &model.MemorySnapshot{
		Knowledge:     s.knowledgeMemory(ctx, childID, since),
		Writing:       s.writingMemory(ctx, childID, since),
		Social:        s.socialMemory(ctx, childID, since),
		Emotion:       s.emotionMemory(ctx, childID, since),
		Personality:   s.personalityTraits(ctx, childID),
		UserProfile:   s.userProfile(ctx, childID),
		DeepInterests: s.deepInterests(ctx, childID),
	}
	return snapshot, nil
}

func (s *memoryService) knowledgeMemory(ctx context.Context, childID uint, since *time.Time) model.KnowledgeMemory {
	mem := model.KnowledgeMemory{
		LearningStats:  map[string]int64{},
		Subjects:       []model.SubjectStat{},
		RecentLearning: []model.RecentLearning{},
	}

	if stats, err := s.growthRepo.LearningStats(ctx, childID, since); err != nil {
		log.Warnf("获取学习统计失败: child=%d, err=%v", childID, err)
	} else if stats != nil {
		mem.LearningStats = stats
	}

	if subjects, err := s.growthRepo.SubjectStats(ctx, childID, since, subjectTopN); err != nil {
		log.Warnf("获取学科分布失败: child=%d, err=%v", childID, err)
	} else {
		for i := range subjects {
			subjects[i].AvgConfidence = round2(subjects[i].AvgConfidence)
		}
		mem.Subjects = subjects
	}

	if points, err := s.growthRepo.RecentKnowledge(ctx, childID, since, recentKnowledgeN); err != nil {
		log.Warnf("获取最近学习内容失败: child=%d, err=%v", childID, err)
	} else {
		for _, p := range points {
			mem.RecentLearning = append(mem.RecentLearning, model.RecentLearning{
				Subject: p.Subject,
				Content: p.Content,
				Source:  p.Source,
				Date:    p.CreatedAt.Format("2006-01-02"),
			})
		}
	}
	return mem
}

func (s *memoryService) writingMemory(ctx context.Context, childID uint, since *time.Time) model.WritingMemory {
	mem := model.WritingMemory{
		RecentMaterials:   []model.MaterialSummary{},
		FrequentLocations: []model.LocationStat{},
	}

	if materials, err := s.growthRepo.RecentWritingMaterials(ctx, childID, since, recentMaterialsN); err != nil {
		log.Warnf("获取作文素材失败: child=%d, err=%v", childID, err)
	} else {
		for _, m := range materials {
			mem.RecentMaterials = append(mem.RecentMaterials, model.MaterialSummary{
				Description: truncateWithEllipsis(m.EventDescription, snippetRuneBudget),
				EventTime:   m.EventTime,
				Location:    m.Location,
				PeopleCount: len(model.DecodeStringList(m.People)),
				Date:        m.CreatedAt.Format("2006-01-02"),
			})
		}
	}

	if locations, err := s.growthRepo.FrequentLocations(ctx, childID, since, frequentLocationsN); err != nil {
		log.Warnf("获取常去地点失败: child=%d, err=%v", childID, err)
	} else {
		mem.FrequentLocations = locations
	}
	return mem
}

func (s *memoryService) socialMemory(ctx context.Context, childID uint, since *time.Time) model.SocialMemory {
	mem := model.SocialMemory{
		Relationships: map[string]int64{},
		Behaviors:     []model.BehaviorStat{},
		RecentEvents:  []model.RecentSocial{},
	}

	if relationships, err := s.growthRepo.RelationshipStats(ctx, childID, since); err != nil {
		log.Warnf("获取关系统计失败: child=%d, err=%v", childID, err)
	} else if relationships != nil {
		mem.Relationships = relationships
	}

	if behaviors, err := s.growthRepo.BehaviorStats(ctx, childID, since); err != nil {
		log.Warnf("获取行为模式失败: child=%d, err=%v", childID, err)
	} else {
		mem.Behaviors = behaviors
	}

	if events, err := s.growthRepo.RecentSocialEvents(ctx, childID, since, recentSocialN); err != nil {
		log.Warnf("获取社交事件失败: child=%d, err=%v", childID, err)
	} else {
		for _, e := range events {
			mem.RecentEvents = append(mem.RecentEvents, model.RecentSocial{
				Relationship: e.RelationshipType,
				Behavior:     e.BehaviorPattern,
				Context:      truncateRunes(e.EventContext, snippetRuneBudget),
				Date:         e.CreatedAt.Format("2006-01-02"),
			})
		}
	}
	return mem
}

func (s *memoryService) emotionMemory(ctx context.Context, childID uint, since *time.Time) model.EmotionMemory {
	mem := model.EmotionMemory{
		EmotionStats:   []model.EmotionStat{},
		RecentEmotions: []model.RecentEmotion{},
	}

	if stats, err := s.growthRepo.EmotionStats(ctx, childID, since); err != nil {
		log.Warnf("获取情绪统计失败: child=%d, err=%v", childID, err)
	} else {
		for i := range stats {
			stats[i].AvgIntensity = round1(stats[i].AvgIntensity)
		}
		mem.EmotionStats = stats
	}

	if emotions, err := s.growthRepo.RecentEmotions(ctx, childID, since, recentEmotionsN); err != nil {
		log.Warnf("获取情绪记录失败: child=%d, err=%v", childID, err)
	} else {
		for _, e := range emotions {
			mem.RecentEmotions = append(mem.RecentEmotions, model.RecentEmotion{
				Type:      e.EmotionType,
				Intensity: e.Intensity,
				Trigger:   truncateRunes(e.TriggerEvent, snippetRuneBudget),
				Date:      e.CreatedAt.Format("2006-01-02"),
			})
		}
	}
	return mem
}

func (s *memoryService) personalityTraits(ctx context.Context, childID uint) []model.TraitSummary {
	traits, err := s.profileRepo.ListTraits(ctx, childID)
	if err != nil {
		log.Warnf("获取性格特质失败: child=%d, err=%v", childID, err)
		return []model.TraitSummary{}
	}
	summaries := make([]model.TraitSummary, 0, len(traits))
	for _, t := range traits {
		summaries = append(summaries, model.TraitSummary{
			Trait:       t.TraitCategory,
			Description: t.TraitDescription,
			Evidence:    t.EvidenceExamples,
		})
	}
	return summaries
}

func (s *memoryService) userProfile(ctx context.Context, childID uint) map[string]string {
	profile, err := s.profileRepo.ProfileEntries(ctx, childID)
	if err != nil {
		log.Warnf("获取用户画像失败: child=%d, err=%v", childID, err)
		return map[string]string{}
	}
	if len(profile) > 0 {
		return profile
	}
	// 没有画像记录时回退到 children 表的基础信息
	basics, err := s.profileRepo.ChildBasics(ctx, childID)
	if err != nil {
		log.Warnf("获取孩子基础信息失败: child=%d, err=%v", childID, err)
		return map[string]string{}
	}
	return basics
}

func (s *memoryService) deepInterests(ctx context.Context, childID uint) []model.InterestSummary {
	interests, err := s.profileRepo.DeepInterests(ctx, childID, deepInterestsN)
	if err != nil {
		log.Warnf("获取深度兴趣失败: child=%d, err=%v", childID, err)
		return []model.InterestSummary{}
	}
	summaries := make([]model.InterestSummary, 0, len(interests))
	for _, i := range interests {
		summary := model.InterestSummary{
			Topic:        i.Topic,
			InquiryCount: i.InquiryCount,
			IsDeep:       i.IsDeepInterest,
		}
		if i.LastMentionedAt != nil {
			summary.LastMentioned = i.LastMentionedAt.Format("2006-01-02")
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// Summarize 渲染记忆摘要，命中缓存时直接返回缓存文本。
func (s *memoryService) Summarize(ctx context.Context, childID uint, days int) (string, error) {
	cacheKey := fmt.Sprintf(summaryCachePattern, childID, days)
	if s.cache != nil && s.cacheTTL > 0 {
		if cached, ok := s.cache.Get(ctx, cacheKey); ok {
			return cached, nil
		}
	}

	snapshot, err := s.GetSnapshot(ctx, childID, days)
	if err != nil {
		return "", err
	}
	summary := renderSummary(snapshot, days)

	if s.cache != nil && s.cacheTTL > 0 {
		s.cache.Set(ctx, cacheKey, summary, s.cacheTTL)
	}
	return summary, nil
}

// InvalidateSummary 清除孩子全部窗口的摘要缓存。
// 窗口天数来自请求参数，键集合不定，按前缀模式删除。
func (s *memoryService) InvalidateSummary(ctx context.Context, childID uint) {
	if s.cache == nil {
		return
	}
	s.cache.DeleteByPattern(ctx, fmt.Sprintf("memory:summary:%d:*", childID))
}

// renderSummary 将快照渲染为有序的分节摘要。空分类整节省略。
// 纯函数：同一快照输入产出逐字节一致的文本。
func renderSummary(snapshot *model.MemorySnapshot, days int) string {
	var parts []string

	// 1. 用户基础信息
	if len(snapshot.UserProfile) > 0 {
		parts = append(parts, "【基础信息】")
		if name, ok := snapshot.UserProfile["name"]; ok {
			parts = append(parts, "孩子姓名: "+name)
		}
		if grade, ok := snapshot.UserProfile["grade"]; ok {
			parts = append(parts, "年级: "+grade)
		}
	}

	// 2. 最近学习情况
	knowledge := snapshot.Knowledge
	if len(knowledge.LearningStats) > 0 {
		active := knowledge.LearningStats[model.SourceActive]
		passive := knowledge.LearningStats[model.SourcePassive]
		if days > 0 {
			parts = append(parts, fmt.Sprintf("\n【最近%d天学习】", days))
		} else {
			parts = append(parts, "\n【学习情况】")
		}
		parts = append(parts, fmt.Sprintf("共学习%d个知识点, 主动学习%d次, 被动学习%d次", active+passive, active, passive))

		if len(knowledge.Subjects) > 0 {
			names := make([]string, 0, 3)
			for i, sub := range knowledge.Subjects {
				if i >= 3 {
					break
				}
				names = append(names, sub.Subject)
			}
			parts = append(parts, "主要学科: "+strings.Join(names, ", "))
		}
	}

	// 3. 最近学习内容
	if len(knowledge.RecentLearning) > 0 {
		parts = append(parts, "\n【最近学习内容】")
		for i, item := range knowledge.RecentLearning {
			if i >= 2 {
				break
			}
			parts = append(parts, fmt.Sprintf("- %s: %s", item.Subject, item.Content))
		}
	}

	// 4. 社交情况。关系类型按固定顺序输出保证确定性。
	if len(snapshot.Social.Relationships) > 0 {
		parts = append(parts, "\n【社交情况】")
		var relParts []string
		for _, rel := range []string{model.RelationshipPeer, model.RelationshipTeacher, model.RelationshipFamily} {
			if count, ok := snapshot.Social.Relationships[rel]; ok {
				relParts = append(relParts, fmt.Sprintf("%s互动%d次", rel, count))
			}
		}
		parts = append(parts, strings.Join(relParts, ", "))
	}

	// 5. 情绪状态
	if len(snapshot.Emotion.EmotionStats) > 0 {
		parts = append(parts, "\n【情绪状态】")
		for _, stat := range snapshot.Emotion.EmotionStats {
			parts = append(parts, fmt.Sprintf("%s情绪%d次(平均强度%.1f)", stat.Type, stat.Count, stat.AvgIntensity))
		}
	}

	// 6. 深度兴趣
	if len(snapshot.DeepInterests) > 0 {
		parts = append(parts, "\n【深度兴趣】")
		topics := make([]string, 0, 3)
		for i, interest := range snapshot.DeepInterests {
			if i >= 3 {
				break
			}
			topics = append(topics, interest.Topic)
		}
		parts = append(parts, strings.Join(topics, ", "))
	}

	return strings.Join(parts, "\n")
}

// truncateRunes 按字符数截断，中文按单字符计。
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// truncateWithEllipsis 超长时截断并追加省略号。
func truncateWithEllipsis(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
