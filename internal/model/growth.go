package model

import (
	"encoding/json"
	"time"
)

// 知识点来源。
const (
	SourceActive  = "active"  // 孩子主动提问、探索
	SourcePassive = "passive" // 老师、家长教授
)

// 社交关系类型。
const (
	RelationshipPeer    = "peer"
	RelationshipTeacher = "teacher"
	RelationshipFamily  = "family"
)

// 情绪类型。
const (
	EmotionPositive = "positive"
	EmotionNegative = "negative"
	EmotionNeutral  = "neutral"
)

// KnowledgePoint 代表一条知识维度记录。
type KnowledgePoint struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ChildID         uint      `gorm:"index;not null" json:"childId"`
	ConversationID  uint      `gorm:"index;not null" json:"conversationId"`
	Source          string    `gorm:"size:16;not null" json:"source"`
	Subject         string    `gorm:"size:32;not null" json:"subject"`
	Content         string    `gorm:"type:text;not null" json:"content"`
	ConfidenceScore float64   `gorm:"not null" json:"confidenceScore"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (KnowledgePoint) TableName() string {
	return "knowledge_points"
}

// WritingMaterial 代表一条作文素材记录。
// People 和 SensoryDetails 以 JSON 文本落库，见 EncodeStringList/EncodeStringMap。
type WritingMaterial struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ChildID          uint      `gorm:"index;not null" json:"childId"`
	ConversationID   uint      `gorm:"index;not null" json:"conversationId"`
	EventDescription string    `gorm:"type:text;not null" json:"eventDescription"`
	EventTime        string    `gorm:"size:64;not null" json:"eventTime"`
	Location         string    `gorm:"size:128;not null" json:"location"`
	People           string    `gorm:"type:text;not null" json:"people"`
	SensoryDetails   string    `gorm:"type:text" json:"sensoryDetails"`
	Feelings         string    `gorm:"type:text" json:"feelings"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (WritingMaterial) TableName() string {
	return "writing_materials"
}

// SocialEvent 代表一条社交维度记录。
type SocialEvent struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	ChildID            uint      `gorm:"index;not null" json:"childId"`
	ConversationID     uint      `gorm:"index;not null" json:"conversationId"`
	RelationshipType   string    `gorm:"size:16;not null" json:"relationshipType"`
	EventContext       string    `gorm:"type:text;not null" json:"eventContext"`
	BehaviorPattern    string    `gorm:"size:128" json:"behaviorPattern"`
	ResolutionStrategy *string   `gorm:"size:255" json:"resolutionStrategy"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (SocialEvent) TableName() string {
	return "social_events"
}

// Emotion 代表一条情绪维度记录。Intensity 永远有值，缺省时按类型补默认。
type Emotion struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ChildID        uint      `gorm:"index;not null" json:"childId"`
	ConversationID uint      `gorm:"index;not null" json:"conversationId"`
	EmotionType    string    `gorm:"size:16;not null" json:"emotionType"`
	Intensity      int       `gorm:"not null" json:"intensity"`
	TriggerEvent   string    `gorm:"type:text" json:"triggerEvent"`
	CopingStrategy *string   `gorm:"size:255" json:"copingStrategy"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (Emotion) TableName() string {
	return "emotions"
}

// PersonalityTrait 代表一条性格特质记录，聚合时只读。
type PersonalityTrait struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ChildID          uint      `gorm:"index;not null" json:"childId"`
	TraitCategory    string    `gorm:"size:64;not null" json:"traitCategory"`
	TraitDescription string    `gorm:"type:text" json:"traitDescription"`
	EvidenceExamples string    `gorm:"type:text" json:"evidenceExamples"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (PersonalityTrait) TableName() string {
	return "personality_traits"
}

// UserMemory 代表用户画像的一条键值记录，聚合时只读。
type UserMemory struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ChildID   uint      `gorm:"index;not null" json:"childId"`
	InfoType  string    `gorm:"size:64;not null" json:"infoType"`
	Content   string    `gorm:"type:text" json:"content"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

func (UserMemory) TableName() string {
	return "user_memory"
}

// InterestIntensity 代表一个话题的兴趣强度记录，聚合时只读。
type InterestIntensity struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	ChildID         uint       `gorm:"index;not null" json:"childId"`
	Topic           string     `gorm:"size:128;not null" json:"topic"`
	InquiryCount    int        `gorm:"default:0" json:"inquiryCount"`
	IsDeepInterest  bool       `gorm:"default:false" json:"isDeepInterest"`
	LastMentionedAt *time.Time `json:"lastMentionedAt"`
}

func (InterestIntensity) TableName() string {
	return "interest_intensity"
}

// EncodeStringList 将字符串列表序列化为落库的 JSON 文本，保持顺序。
func EncodeStringList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// DecodeStringList 解析落库的 JSON 文本，解析失败返回空列表。
func DecodeStringList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return []string{}
	}
	return items
}

// EncodeStringMap 将感官细节等映射序列化为落库的 JSON 文本。
func EncodeStringMap(m map[string]string) string {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}
