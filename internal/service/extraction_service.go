package service

import (
	"context"
	"encoding/json"
	"fmt"
	"learnsmart-go/internal/model"
	"learnsmart-go/pkg/llm"
	"learnsmart-go/pkg/log"
	"strings"
)

// ExtractionService 定义了五维信息提取的操作接口。
type ExtractionService interface {
	// Extract 从一个轮次（用户消息 + AI 回复）中提取五维信息。
	// 优先走模型提取；调用或解析失败时落到确定性的关键词兜底分类器，
	// 因此总能返回结果，只是维度可能全部缺席。
	Extract(ctx context.Context, userMessage, reply string) *model.ExtractionResult
}

// extractionService 是 ExtractionService 接口的实现。
type extractionService struct {
	llmClient llm.Client
}

// NewExtractionService 创建一个新的 ExtractionService 实例。
func NewExtractionService(llmClient llm.Client) ExtractionService {
	return &extractionService{llmClient: llmClient}
}

// extractionPrompt 是模型提取的固定指令，要求输出单个 JSON 对象。
const extractionPrompt = `你是一个信息提取助手。请从下面一轮"孩子的消息 + AI伙伴的回复"中提取成长信息，输出一个JSON对象，包含以下四个维度（没有明确证据的维度输出 null，不要编造）：

"knowledge": 知识点。字段: source("active"=孩子主动探索 / "passive"=老师家长教授，必填), subject(学科，取值: 数学/物理/化学/生物/语文/英语/地理/历史/其他，必填), content(知识内容概述，必填), confidence_score(0到1的小数，必填)
"writing": 作文素材。字段: event_description(事件描述，必填), event_time(时间短语，可空), location(地点，可空), people(人物数组，可空), sensory_details(感官细节对象，可空), feelings(感受，可空)
"social": 社交事件。字段: relationship_type("peer"/"teacher"/"family"，必填), event_context(事件经过，必填), behavior_pattern(行为模式，可空), resolution_strategy(冲突解决方式，可空)
"emotion": 情绪。字段: emotion_type("positive"/"negative"/"neutral"，必填), intensity(1-10整数，可空), trigger_event(触发事件，必填), coping_strategy(应对方式，可空)

输出格式示例：
{"knowledge":{"source":"passive","subject":"数学","content":"圆的面积公式","confidence_score":0.9},"writing":null,"social":null,"emotion":{"emotion_type":"positive","intensity":8,"trigger_event":"学会了新公式","coping_strategy":null}}

只输出这一个JSON对象，不要输出任何其他文字。`

// llmExtraction 对应模型输出的 JSON 结构。intensity 用指针区分 null。
type llmExtraction struct {
	Knowledge *struct {
		Source          string  `json:"source"`
		Subject         string  `json:"subject"`
		Content         string  `json:"content"`
		ConfidenceScore float64 `json:"confidence_score"`
	} `json:"knowledge"`
	Writing *struct {
		EventDescription string            `json:"event_description"`
		EventTime        string            `json:"event_time"`
		Location         string            `json:"location"`
		People           []string          `json:"people"`
		SensoryDetails   map[string]string `json:"sensory_details"`
		Feelings         string            `json:"feelings"`
	} `json:"writing"`
	Social *struct {
		RelationshipType   string  `json:"relationship_type"`
		EventContext       string  `json:"event_context"`
		BehaviorPattern    string  `json:"behavior_pattern"`
		ResolutionStrategy *string `json:"resolution_strategy"`
	} `json:"social"`
	Emotion *struct {
		EmotionType    string  `json:"emotion_type"`
		Intensity      *int    `json:"intensity"`
		TriggerEvent   string  `json:"trigger_event"`
		CopingStrategy *string `json:"coping_strategy"`
	} `json:"emotion"`
}

// Extract 优先走模型提取，失败时使用关键词兜底。
func (s *extractionService) Extract(ctx context.Context, userMessage, reply string) *model.ExtractionResult {
	result, err := s.extractWithModel(ctx, userMessage, reply)
	if err != nil {
		log.Warnf("模型提取失败，使用关键词兜底: %v", err)
		return extractWithKeywords(userMessage, reply)
	}
	return result
}

// extractWithModel 以独立的无状态调用请求模型输出结构化 JSON。
// 调用失败或解析失败整体报错，不返回部分结果。
func (s *extractionService) extractWithModel(ctx context.Context, userMessage, reply string) (*model.ExtractionResult, error) {
	content := fmt.Sprintf("%s\n\n孩子的消息: %s\nAI伙伴的回复: %s", extractionPrompt, userMessage, reply)
	temperature := 0.1
	maxTokens := 1000
	raw, err := s.llmClient.Chat(ctx, []model.ChatMessage{
		{Role: model.RoleUser, Content: content},
	}, &llm.GenerationParams{Temperature: &temperature, MaxTokens: &maxTokens})
	if err != nil {
		return nil, fmt.Errorf("提取调用失败: %w", err)
	}
	return parseExtraction(raw)
}

// parseExtraction 解析模型输出。先剥掉 Markdown 代码围栏；直接解析失败时，
// 取首个 '{' 到末尾 '}' 的片段重试，以兼容夹带说明文字的输出。
func parseExtraction(raw string) (*model.ExtractionResult, error) {
	clean := stripCodeFence(raw)

	var parsed llmExtraction
	if err := json.Unmarshal([]byte(clean), &parsed); err != nil {
		start := strings.Index(clean, "{")
		end := strings.LastIndex(clean, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("提取输出不含JSON对象: %w", err)
		}
		if err := json.Unmarshal([]byte(clean[start:end+1]), &parsed); err != nil {
			return nil, fmt.Errorf("提取输出解析失败: %w", err)
		}
	}

	result := &model.ExtractionResult{}
	if parsed.Knowledge != nil && parsed.Knowledge.Content != "" {
		result.Knowledge = &model.KnowledgeDimension{
			Source:          parsed.Knowledge.Source,
			Subject:         parsed.Knowledge.Subject,
			Content:         parsed.Knowledge.Content,
			ConfidenceScore: parsed.Knowledge.ConfidenceScore,
		}
	}
	if parsed.Writing != nil && parsed.Writing.EventDescription != "" {
		writing := &model.WritingDimension{
			EventDescription: parsed.Writing.EventDescription,
			EventTime:        parsed.Writing.EventTime,
			Location:         parsed.Writing.Location,
			People:           parsed.Writing.People,
			SensoryDetails:   parsed.Writing.SensoryDetails,
			Feelings:         parsed.Writing.Feelings,
		}
		applyWritingDefaults(writing)
		result.Writing = writing
	}
	if parsed.Social != nil && parsed.Social.EventContext != "" {
		result.Social = &model.SocialDimension{
			RelationshipType:   parsed.Social.RelationshipType,
			EventContext:       parsed.Social.EventContext,
			BehaviorPattern:    parsed.Social.BehaviorPattern,
			ResolutionStrategy: parsed.Social.ResolutionStrategy,
		}
	}
	if parsed.Emotion != nil && parsed.Emotion.EmotionType != "" {
		emotion := &model.EmotionDimension{
			EmotionType:    parsed.Emotion.EmotionType,
			TriggerEvent:   parsed.Emotion.TriggerEvent,
			CopingStrategy: parsed.Emotion.CopingStrategy,
		}
		if parsed.Emotion.Intensity != nil {
			emotion.Intensity = *parsed.Emotion.Intensity
		}
		if emotion.Intensity == 0 {
			emotion.Intensity = defaultIntensity(emotion.EmotionType)
		}
		result.Emotion = emotion
	}
	return result, nil
}

// stripCodeFence 剥掉 ```json ... ``` 或 ``` ... ``` 包裹。
func stripCodeFence(raw string) string {
	clean := strings.TrimSpace(raw)
	if !strings.HasPrefix(clean, "```") {
		return clean
	}
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(strings.TrimSpace(clean), "```")
	return strings.TrimSpace(clean)
}

// defaultIntensity 按情绪类型补默认强度：positive→8，其余→5。
func defaultIntensity(emotionType string) int {
	if emotionType == model.EmotionPositive {
		return 8
	}
	return 5
}

// applyWritingDefaults 为缺失的必填子字段补默认值，而不是丢弃整个维度。
func applyWritingDefaults(w *model.WritingDimension) {
	if w.EventTime == "" {
		w.EventTime = "今天"
	}
	if w.Location == "" {
		w.Location = "未知地点"
	}
	if len(w.People) == 0 {
		w.People = []string{"我"}
	}
}

// ---- 关键词兜底分类器 ----
// 全部查表顺序固定，保证同样输入产出同样结果。

// passiveMarkers 命中任意一个即判定被动学习（老师/家长教授）。
var passiveMarkers = []string{"老师", "爸妈", "上课", "教了", "讲了"}

// subjectKeywords 按固定优先级匹配学科，取第一个命中的条目。
var subjectKeywords = []struct {
	subject  string
	keywords []string
}{
	{"数学", []string{"数学", "算术", "几何", "方程", "公式", "计算"}},
	{"物理", []string{"物理", "重力", "摩擦", "电路", "光学"}},
	{"化学", []string{"化学", "元素", "分子", "实验"}},
	{"生物", []string{"生物", "细胞", "植物", "动物", "昆虫"}},
	{"语文", []string{"语文", "作文", "古诗", "课文", "成语"}},
	{"英语", []string{"英语", "单词", "英文"}},
	{"地理", []string{"地理", "地图", "气候", "河流"}},
	{"历史", []string{"历史", "朝代", "古代", "文物"}},
}

// socialKeywords 命中任意一个即判定有社交事件。
var socialKeywords = []string{"同学", "朋友", "一起", "老师", "妈妈", "爸爸", "吵架", "打架", "分享", "帮助"}

// teacherKeywords / familyKeywords 细分关系类型，teacher 优先于 family。
var teacherKeywords = []string{"老师"}
var familyKeywords = []string{"妈妈", "爸爸", "爷爷", "奶奶", "家人", "爸妈"}

// emotionKeywordGroups 按 positive → negative → neutral 的优先级匹配，
// 第一个命中的类别生效；都未命中则本轮不记录情绪。
var emotionKeywordGroups = []struct {
	emotionType string
	intensity   int
	keywords    []string
}{
	{model.EmotionPositive, 7, []string{"开心", "高兴", "快乐", "兴奋", "喜欢", "好玩", "棒"}},
	{model.EmotionNegative, 5, []string{"难过", "伤心", "生气", "害怕", "讨厌", "哭", "委屈"}},
	{model.EmotionNeutral, 5, []string{"还好", "一般", "平静"}},
}

// eventMarkers 是作文素材的事件指示词（时间/地点标记）。
var eventMarkers = []string{"今天", "昨天", "周末", "学校", "公园", "家里"}

// writingMinRunes 是兜底路径判定作文素材的最小消息长度（字符数）。
const writingMinRunes = 15

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// extractWithKeywords 是确定性的关键词兜底分类器。
func extractWithKeywords(userMessage, reply string) *model.ExtractionResult {
	result := &model.ExtractionResult{Fallback: true}

	// 知识维度：学科命中或出现教授类标记时才判定有学习内容
	subject := ""
	for _, entry := range subjectKeywords {
		if containsAny(userMessage, entry.keywords) || containsAny(reply, entry.keywords) {
			subject = entry.subject
			break
		}
	}
	hasPassiveMarker := containsAny(userMessage, passiveMarkers)
	if subject != "" || hasPassiveMarker {
		source := model.SourceActive
		if hasPassiveMarker {
			source = model.SourcePassive
		}
		if subject == "" {
			subject = "其他"
		}
		result.Knowledge = &model.KnowledgeDimension{
			Source:          source,
			Subject:         subject,
			Content:         userMessage,
			ConfidenceScore: 0.6,
		}
	}

	// 社交维度：teacher 判定优先于 family，默认 peer
	if containsAny(userMessage, socialKeywords) {
		relationship := model.RelationshipPeer
		if containsAny(userMessage, teacherKeywords) {
			relationship = model.RelationshipTeacher
		} else if containsAny(userMessage, familyKeywords) {
			relationship = model.RelationshipFamily
		}
		result.Social = &model.SocialDimension{
			RelationshipType: relationship,
			EventContext:     userMessage,
		}
	}

	// 情绪维度：无命中则缺席，不写默认 neutral 行
	for _, group := range emotionKeywordGroups {
		if containsAny(userMessage, group.keywords) {
			result.Emotion = &model.EmotionDimension{
				EmotionType:  group.emotionType,
				Intensity:    group.intensity,
				TriggerEvent: userMessage,
			}
			break
		}
	}

	// 作文素材：事件指示词 + 消息足够长；只记原始描述，不填结构化子字段
	if containsAny(userMessage, eventMarkers) && len([]rune(userMessage)) > writingMinRunes {
		result.Writing = &model.WritingDimension{
			EventDescription: userMessage,
		}
	}

	return result
}
