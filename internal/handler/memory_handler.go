package handler

import (
	"learnsmart-go/internal/model"
	"learnsmart-go/internal/repository"
	"learnsmart-go/internal/service"
	"learnsmart-go/pkg/log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// MemoryHandler 负责暴露成长记忆的查询接口：快照、摘要、素材与分析视图。
type MemoryHandler struct {
	memoryService       service.MemoryService
	userService         service.UserService
	growthRepo          repository.GrowthRepository
	defaultLookbackDays int
}

// NewMemoryHandler 创建一个新的 MemoryHandler。
func NewMemoryHandler(memoryService service.MemoryService, userService service.UserService, growthRepo repository.GrowthRepository, defaultLookbackDays int) *MemoryHandler {
	return &MemoryHandler{
		memoryService:       memoryService,
		userService:         userService,
		growthRepo:          growthRepo,
		defaultLookbackDays: defaultLookbackDays,
	}
}

// GetSnapshot 返回孩子的结构化记忆快照。
func (h *MemoryHandler) GetSnapshot(c *gin.Context) {
	childID, days, ok := h.resolveChildQuery(c)
	if !ok {
		return
	}

	snapshot, err := h.memoryService.GetSnapshot(c.Request.Context(), childID, days)
	if err != nil {
		log.Errorf("获取记忆快照失败: child=%d, err=%v", childID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "获取记忆快照失败",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": snapshot, "message": "success"})
}

// GetSummary 返回注入对话 prompt 的同一份记忆摘要文本。
func (h *MemoryHandler) GetSummary(c *gin.Context) {
	childID, days, ok := h.resolveChildQuery(c)
	if !ok {
		return
	}

	summary, err := h.memoryService.Summarize(c.Request.Context(), childID, days)
	if err != nil {
		log.Errorf("生成记忆摘要失败: child=%d, err=%v", childID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "生成记忆摘要失败",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"data":    gin.H{"summary": summary, "days": days},
		"message": "success",
	})
}

// materialView 是作文素材的响应结构，人物列表从落库的 JSON 文本还原。
type materialView struct {
	ID               uint      `json:"id"`
	EventDescription string    `json:"eventDescription"`
	EventTime        string    `json:"eventTime"`
	Location         string    `json:"location"`
	People           []string  `json:"people"`
	Feelings         string    `json:"feelings"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ListMaterials 返回最近的作文素材列表。
func (h *MemoryHandler) ListMaterials(c *gin.Context) {
	childID, days, ok := h.resolveChildQuery(c)
	if !ok {
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	since := time.Now().AddDate(0, 0, -days)
	materials, err := h.growthRepo.RecentWritingMaterials(c.Request.Context(), childID, &since, limit)
	if err != nil {
		log.Errorf("查询作文素材失败: child=%d, err=%v", childID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "查询作文素材失败",
		})
		return
	}

	views := make([]materialView, 0, len(materials))
	for _, m := range materials {
		views = append(views, materialView{
			ID:               m.ID,
			EventDescription: m.EventDescription,
			EventTime:        m.EventTime,
			Location:         m.Location,
			People:           model.DecodeStringList(m.People),
			Feelings:         m.Feelings,
			CreatedAt:        m.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": views, "message": "success"})
}

// GetAnalysis 返回面向家长端的聚合统计视图。
// 与快照同源，但只保留统计字段，不下发原始内容片段。
func (h *MemoryHandler) GetAnalysis(c *gin.Context) {
	childID, days, ok := h.resolveChildQuery(c)
	if !ok {
		return
	}

	snapshot, err := h.memoryService.GetSnapshot(c.Request.Context(), childID, days)
	if err != nil {
		log.Errorf("获取分析视图失败: child=%d, err=%v", childID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "获取分析视图失败",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code": http.StatusOK,
		"data": gin.H{
			"days":              days,
			"learningStats":     snapshot.Knowledge.LearningStats,
			"subjectStats":      snapshot.Knowledge.Subjects,
			"materialCount":     len(snapshot.Writing.RecentMaterials),
			"frequentLocations": snapshot.Writing.FrequentLocations,
			"relationshipStats": snapshot.Social.Relationships,
			"behaviorStats":     snapshot.Social.Behaviors,
			"emotionStats":      snapshot.Emotion.EmotionStats,
			"deepInterests":     snapshot.DeepInterests,
		},
		"message": "success",
	})
}

// resolveChildQuery 解析 childId 路径参数与 days 查询参数，并校验孩子归属。
// 返回 ok=false 时响应已写出。
func (h *MemoryHandler) resolveChildQuery(c *gin.Context) (uint, int, bool) {
	parent := currentParent(c)
	if parent == nil {
		return 0, 0, false
	}

	childID, err := strconv.ParseUint(c.Param("childId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的孩子ID"})
		return 0, 0, false
	}

	if _, err := h.userService.GetChild(parent.ID, uint(childID)); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": err.Error()})
		return 0, 0, false
	}

	days := h.defaultLookbackDays
	if raw := c.Query("days"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			days = v
		}
	}
	return uint(childID), days, true
}
