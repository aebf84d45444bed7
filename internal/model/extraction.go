package model

// ExtractionResult 是一个轮次提取出的五维信息。
// 维度指针为 nil 表示该轮次没有对应维度的证据，不写任何行。
type ExtractionResult struct {
	Knowledge *KnowledgeDimension `json:"knowledge,omitempty"`
	Writing   *WritingDimension   `json:"writing,omitempty"`
	Social    *SocialDimension    `json:"social,omitempty"`
	Emotion   *EmotionDimension   `json:"emotion,omitempty"`
	// Fallback 标记本次结果来自关键词兜底分类器而非模型。
	Fallback bool `json:"fallback,omitempty"`
}

// KnowledgeDimension 是知识维度的提取结果。
type KnowledgeDimension struct {
	Source          string  `json:"source"`
	Subject         string  `json:"subject"`
	Content         string  `json:"content"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// WritingDimension 是作文素材维度的提取结果。
// 兜底路径只填 EventDescription，结构化子字段留空由落库时补默认。
type WritingDimension struct {
	EventDescription string            `json:"event_description"`
	EventTime        string            `json:"event_time"`
	Location         string            `json:"location"`
	People           []string          `json:"people"`
	SensoryDetails   map[string]string `json:"sensory_details"`
	Feelings         string            `json:"feelings"`
}

// SocialDimension 是社交维度的提取结果。
type SocialDimension struct {
	RelationshipType   string  `json:"relationship_type"`
	EventContext       string  `json:"event_context"`
	BehaviorPattern    string  `json:"behavior_pattern"`
	ResolutionStrategy *string `json:"resolution_strategy"`
}

// EmotionDimension 是情绪维度的提取结果。
// Intensity 为 0 视为模型未给出，按类型补默认（positive→8，其余→5）。
type EmotionDimension struct {
	EmotionType    string  `json:"emotion_type"`
	Intensity      int     `json:"intensity"`
	TriggerEvent   string  `json:"trigger_event"`
	CopingStrategy *string `json:"coping_strategy"`
}

// TurnResult 是编排器对外的统一返回。编排器从不向调用方抛错，
// 失败时 Success 为 false 且 Error 携带错误文本。
type TurnResult struct {
	Success        bool              `json:"success"`
	Reply          string            `json:"reply,omitempty"`
	ConversationID uint              `json:"conversation_id,omitempty"`
	Mode           string            `json:"mode,omitempty"`
	TurnCount      int64             `json:"turn_count,omitempty"`
	Extracted      *ExtractionResult `json:"extracted_info,omitempty"`
	Error          string            `json:"error,omitempty"`
}
