package model

// MemorySnapshot 是一个孩子在给定回看窗口内的五维聚合视图。
// 对固定的数据快照，所有切片顺序都是确定的。
type MemorySnapshot struct {
	Knowledge     KnowledgeMemory  `json:"knowledge"`
	Writing       WritingMemory    `json:"writing"`
	Social        SocialMemory     `json:"social"`
	Emotion       EmotionMemory    `json:"emotion"`
	Personality   []TraitSummary   `json:"personality"`
	UserProfile   map[string]string `json:"user_profile"`
	DeepInterests []InterestSummary `json:"deep_interests"`
}

// KnowledgeMemory 是知识维度的聚合结果。
type KnowledgeMemory struct {
	LearningStats  map[string]int64 `json:"learning_stats"` // source → 次数
	Subjects       []SubjectStat    `json:"subjects"`
	RecentLearning []RecentLearning `json:"recent_learning"`
}

// SubjectStat 是某一学科的统计。
type SubjectStat struct {
	Subject       string  `json:"subject"`
	Count         int64   `json:"count"`
	AvgConfidence float64 `json:"avg_confidence"`
}

// RecentLearning 是一条最近学习内容。
type RecentLearning struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
	Source  string `json:"source"`
	Date    string `json:"date"`
}

// WritingMemory 是表达维度的聚合结果。
type WritingMemory struct {
	RecentMaterials   []MaterialSummary `json:"recent_materials"`
	FrequentLocations []LocationStat    `json:"frequent_locations"`
}

// MaterialSummary 是一条最近作文素材的摘要。
type MaterialSummary struct {
	Description string `json:"description"`
	EventTime   string `json:"event_time"`
	Location    string `json:"location"`
	PeopleCount int    `json:"people_count"`
	Date        string `json:"date"`
}

// LocationStat 是常去地点统计。
type LocationStat struct {
	Location string `json:"location"`
	Count    int64  `json:"count"`
}

// SocialMemory 是社交维度的聚合结果。
type SocialMemory struct {
	Relationships map[string]int64 `json:"relationships"` // relationship_type → 次数
	Behaviors     []BehaviorStat   `json:"behaviors"`
	RecentEvents  []RecentSocial   `json:"recent_events"`
}

// BehaviorStat 是行为模式统计。
type BehaviorStat struct {
	Pattern string `json:"pattern"`
	Count   int64  `json:"count"`
}

// RecentSocial 是一条最近社交事件。
type RecentSocial struct {
	Relationship string `json:"relationship"`
	Behavior     string `json:"behavior"`
	Context      string `json:"context"`
	Date         string `json:"date"`
}

// EmotionMemory 是情绪维度的聚合结果。
type EmotionMemory struct {
	EmotionStats   []EmotionStat   `json:"emotion_stats"`
	RecentEmotions []RecentEmotion `json:"recent_emotions"`
}

// EmotionStat 是某一情绪类型的统计。
type EmotionStat struct {
	Type         string  `json:"type"`
	Count        int64   `json:"count"`
	AvgIntensity float64 `json:"avg_intensity"`
}

// RecentEmotion 是一条最近情绪记录。
type RecentEmotion struct {
	Type      string `json:"type"`
	Intensity int    `json:"intensity"`
	Trigger   string `json:"trigger"`
	Date      string `json:"date"`
}

// TraitSummary 是一条性格特质。
type TraitSummary struct {
	Trait       string `json:"trait"`
	Description string `json:"description"`
	Evidence    string `json:"evidence"`
}

// InterestSummary 是一条深度兴趣。
type InterestSummary struct {
	Topic         string `json:"topic"`
	InquiryCount  int    `json:"inquiry_count"`
	IsDeep        bool   `json:"is_deep"`
	LastMentioned string `json:"last_mentioned"`
}
