package service

import (
	"context"
	"errors"
	"learnsmart-go/internal/model"
	"learnsmart-go/pkg/llm"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeLLMClient 返回固定回复或固定错误。
type fakeLLMClient struct {
	reply string
	err   error
}

func (f *fakeLLMClient) Chat(ctx context.Context, messages []model.ChatMessage, gen *llm.GenerationParams) (string, error) {
	return f.reply, f.err
}

func (f *fakeLLMClient) StreamChatMessages(ctx context.Context, messages []model.ChatMessage, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	if f.err != nil {
		return f.err
	}
	return writer.WriteMessage(1, []byte(f.reply))
}

func TestParseExtraction_StripsCodeFence(t *testing.T) {
	raw := "```json\n{\"knowledge\":{\"source\":\"passive\",\"subject\":\"数学\",\"content\":\"圆的面积公式\",\"confidence_score\":0.9},\"writing\":null,\"social\":null,\"emotion\":null}\n```"

	result, err := parseExtraction(raw)
	require.NoError(t, err)
	require.NotNil(t, result.Knowledge)
	require.Equal(t, model.SourcePassive, result.Knowledge.Source)
	require.Equal(t, "数学", result.Knowledge.Subject)
	require.Equal(t, 0.9, result.Knowledge.ConfidenceScore)
	require.Nil(t, result.Writing)
	require.Nil(t, result.Social)
	require.Nil(t, result.Emotion)
	require.False(t, result.Fallback)
}

func TestParseExtraction_RecoversEmbeddedJSON(t *testing.T) {
	raw := "好的，提取结果如下：{\"knowledge\":null,\"writing\":null,\"social\":null,\"emotion\":{\"emotion_type\":\"negative\",\"intensity\":null,\"trigger_event\":\"和同学吵架\",\"coping_strategy\":null}}"

	result, err := parseExtraction(raw)
	require.NoError(t, err)
	require.NotNil(t, result.Emotion)
	require.Equal(t, model.EmotionNegative, result.Emotion.EmotionType)
	// intensity 为 null 时按类型补默认
	require.Equal(t, 5, result.Emotion.Intensity)
}

func TestParseExtraction_DefaultIntensityPositive(t *testing.T) {
	raw := `{"knowledge":null,"writing":null,"social":null,"emotion":{"emotion_type":"positive","intensity":null,"trigger_event":"学会了新公式","coping_strategy":null}}`

	result, err := parseExtraction(raw)
	require.NoError(t, err)
	require.NotNil(t, result.Emotion)
	require.Equal(t, 8, result.Emotion.Intensity)
}

func TestParseExtraction_WritingDefaults(t *testing.T) {
	raw := `{"knowledge":null,"writing":{"event_description":"去公园放风筝","event_time":"","location":"","people":null,"sensory_details":null,"feelings":""},"social":null,"emotion":null}`

	result, err := parseExtraction(raw)
	require.NoError(t, err)
	require.NotNil(t, result.Writing)
	require.Equal(t, "今天", result.Writing.EventTime)
	require.Equal(t, "未知地点", result.Writing.Location)
	require.Equal(t, []string{"我"}, result.Writing.People)
}

func TestParseExtraction_NoJSONObject(t *testing.T) {
	_, err := parseExtraction("抱歉，我无法提取任何信息。")
	require.Error(t, err)
}

func TestExtract_FallsBackWhenModelFails(t *testing.T) {
	svc := NewExtractionService(&fakeLLMClient{err: errors.New("upstream down")})

	result := svc.Extract(context.Background(), "今天数学课老师教了圆的面积公式", "")
	require.True(t, result.Fallback)
	require.NotNil(t, result.Knowledge)
	require.Equal(t, model.SourcePassive, result.Knowledge.Source)
	require.Equal(t, "数学", result.Knowledge.Subject)
	require.Equal(t, 0.6, result.Knowledge.ConfidenceScore)
}

func TestExtract_FallsBackOnMalformedOutput(t *testing.T) {
	svc := NewExtractionService(&fakeLLMClient{reply: "这不是JSON"})

	result := svc.Extract(context.Background(), "我喜欢昆虫", "")
	require.True(t, result.Fallback)
	require.NotNil(t, result.Knowledge)
	require.Equal(t, "生物", result.Knowledge.Subject)
	require.Equal(t, model.SourceActive, result.Knowledge.Source)
}

// 被动学习 + 数学学科 + 正面情绪的典型消息。
func TestKeywordFallback_PassiveMathPositive(t *testing.T) {
	result := extractWithKeywords("今天上数学课学了圆的面积公式，老师讲得特别好，我很开心", "")

	require.True(t, result.Fallback)
	require.NotNil(t, result.Knowledge)
	require.Equal(t, model.SourcePassive, result.Knowledge.Source)
	require.Equal(t, "数学", result.Knowledge.Subject)

	require.NotNil(t, result.Emotion)
	require.Equal(t, model.EmotionPositive, result.Emotion.EmotionType)
	require.Equal(t, 7, result.Emotion.Intensity)

	// "老师" 同时是社交关键词，关系判定 teacher 优先
	require.NotNil(t, result.Social)
	require.Equal(t, model.RelationshipTeacher, result.Social.RelationshipType)
}

// 同伴冲突 + 负面情绪，无学科命中。
func TestKeywordFallback_PeerConflictNegative(t *testing.T) {
	result := extractWithKeywords("我和同学吵架了，很难过", "")

	require.Nil(t, result.Knowledge)
	require.NotNil(t, result.Social)
	require.Equal(t, model.RelationshipPeer, result.Social.RelationshipType)
	require.NotNil(t, result.Emotion)
	require.Equal(t, model.EmotionNegative, result.Emotion.EmotionType)
	require.Equal(t, 5, result.Emotion.Intensity)
}

// 家人关系：无 teacher 关键词时落到 family。
func TestKeywordFallback_FamilyRelationship(t *testing.T) {
	result := extractWithKeywords("周末妈妈带我去公园放风筝，玩得很开心", "")

	require.NotNil(t, result.Social)
	require.Equal(t, model.RelationshipFamily, result.Social.RelationshipType)
	// 含事件指示词且超过最小长度，记为作文素材
	require.NotNil(t, result.Writing)
	require.Equal(t, "周末妈妈带我去公园放风筝，玩得很开心", result.Writing.EventDescription)
	require.Empty(t, result.Writing.EventTime)
}

// 短消息即使含事件指示词也不记素材。
func TestKeywordFallback_ShortMessageNoWriting(t *testing.T) {
	result := extractWithKeywords("今天去学校了", "")
	require.Nil(t, result.Writing)
}

// 无任何命中时四个维度全部缺席，但仍返回结果。
func TestKeywordFallback_NoSignal(t *testing.T) {
	result := extractWithKeywords("嗯嗯", "")

	require.True(t, result.Fallback)
	require.Nil(t, result.Knowledge)
	require.Nil(t, result.Writing)
	require.Nil(t, result.Social)
	require.Nil(t, result.Emotion)
}

// 学科匹配按固定优先级取第一个命中。
func TestKeywordFallback_SubjectPriority(t *testing.T) {
	result := extractWithKeywords("做物理实验要用到数学计算", "")

	require.NotNil(t, result.Knowledge)
	require.Equal(t, "数学", result.Knowledge.Subject)
}

// 被动标记但无学科命中时记为"其他"。
func TestKeywordFallback_PassiveWithoutSubject(t *testing.T) {
	result := extractWithKeywords("老师教了我们新东西", "")

	require.NotNil(t, result.Knowledge)
	require.Equal(t, "其他", result.Knowledge.Subject)
	require.Equal(t, model.SourcePassive, result.Knowledge.Source)
}

// 同样输入两次调用产出相同结果。
func TestKeywordFallback_Deterministic(t *testing.T) {
	msg := "今天上数学课学了圆的面积公式，老师讲得特别好，我很开心"
	first := extractWithKeywords(msg, "")
	second := extractWithKeywords(msg, "")
	require.Equal(t, first, second)
}

func TestStripCodeFence(t *testing.T) {
	require.Equal(t, `{"a":1}`, stripCodeFence("```json\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, stripCodeFence("```\n{\"a\":1}\n```"))
	require.Equal(t, `{"a":1}`, stripCodeFence(`{"a":1}`))
}
