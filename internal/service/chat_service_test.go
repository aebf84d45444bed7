package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"learnsmart-go/internal/config"
	"learnsmart-go/internal/model"
	"learnsmart-go/pkg/llm"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeConversationRepo 是会话与消息的内存实现。
type fakeConversationRepo struct {
	nextConvID    uint
	nextMsgID     uint
	conversations map[uint]*model.Conversation
	messages      []model.Message
}

func newFakeConversationRepo() *fakeConversationRepo {
	return &fakeConversationRepo{conversations: map[uint]*model.Conversation{}}
}

func (f *fakeConversationRepo) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	f.nextConvID++
	conv.ID = f.nextConvID
	f.conversations[conv.ID] = conv
	return nil
}

func (f *fakeConversationRepo) FindConversation(ctx context.Context, conversationID uint) (*model.Conversation, error) {
	conv, ok := f.conversations[conversationID]
	if !ok {
		return nil, errors.New("record not found")
	}
	return conv, nil
}

func (f *fakeConversationRepo) AppendMessage(ctx context.Context, msg *model.Message) error {
	f.nextMsgID++
	msg.ID = f.nextMsgID
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *fakeConversationRepo) RecentMessages(ctx context.Context, conversationID uint, limit int) ([]model.Message, error) {
	var msgs []model.Message
	for _, m := range f.messages {
		if m.ConversationID == conversationID {
			msgs = append(msgs, m)
		}
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeConversationRepo) CountUserMessages(ctx context.Context, conversationID uint) (int64, error) {
	var count int64
	for _, m := range f.messages {
		if m.ConversationID == conversationID && m.Role == model.RoleUser {
			count++
		}
	}
	return count, nil
}

// capturingLLM 记录收到的消息并返回固定回复。
type capturingLLM struct {
	reply    string
	err      error
	captured [][]model.ChatMessage
}

func (c *capturingLLM) Chat(ctx context.Context, messages []model.ChatMessage, gen *llm.GenerationParams) (string, error) {
	c.captured = append(c.captured, messages)
	return c.reply, c.err
}

func (c *capturingLLM) StreamChatMessages(ctx context.Context, messages []model.ChatMessage, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	c.captured = append(c.captured, messages)
	if c.err != nil {
		return c.err
	}
	return writer.WriteMessage(1, []byte(c.reply))
}

// fakeMemoryService 返回固定摘要并记录失效调用。
type fakeMemoryService struct {
	summary         string
	summaryErr      error
	invalidateCalls int
}

func (f *fakeMemoryService) GetSnapshot(ctx context.Context, childID uint, days int) (*model.MemorySnapshot, error) {
	return &model.MemorySnapshot{}, nil
}

func (f *fakeMemoryService) Summarize(ctx context.Context, childID uint, days int) (string, error) {
	return f.summary, f.summaryErr
}

func (f *fakeMemoryService) InvalidateSummary(ctx context.Context, childID uint) {
	f.invalidateCalls++
}

func newTestChatService(convRepo *fakeConversationRepo, growth *fakeGrowthRepo, mem *fakeMemoryService, chatLLM, extractLLM llm.Client) ChatService {
	return NewChatService(
		convRepo,
		growth,
		mem,
		NewExtractionService(extractLLM),
		chatLLM,
		config.MemoryConfig{LookbackDays: 7},
		config.ChatConfig{HistoryTurns: 10},
	)
}

const validExtractionJSON = `{"knowledge":{"source":"passive","subject":"数学","content":"圆的面积公式","confidence_score":0.9},"writing":null,"social":null,"emotion":null}`

func TestHandleTurn_Success(t *testing.T) {
	convRepo := newFakeConversationRepo()
	growth := &fakeGrowthRepo{}
	mem := &fakeMemoryService{summary: "【基础信息】\n孩子姓名: 小明"}
	chatLLM := &capturingLLM{reply: "哇，圆的面积公式！你还记得是怎么算的吗？"}
	extractLLM := &fakeLLMClient{reply: validExtractionJSON}

	svc := newTestChatService(convRepo, growth, mem, chatLLM, extractLLM)
	result := svc.HandleTurn(context.Background(), 1, "今天数学课学了圆的面积公式", 0, "")

	require.True(t, result.Success)
	require.Empty(t, result.Error)
	require.Equal(t, chatLLM.reply, result.Reply)
	require.NotZero(t, result.ConversationID)
	require.Equal(t, model.ModeKnowledge, result.Mode)
	require.Equal(t, int64(1), result.TurnCount)
	require.NotNil(t, result.Extracted)
	require.NotNil(t, result.Extracted.Knowledge)
	require.False(t, result.Extracted.Fallback)

	// user 消息在前，assistant 消息在后
	require.Len(t, convRepo.messages, 2)
	require.Equal(t, model.RoleUser, convRepo.messages[0].Role)
	require.Equal(t, model.RoleAssistant, convRepo.messages[1].Role)

	// 知识点落库，摘要缓存被失效
	require.Len(t, growth.knowledgePoints, 1)
	require.Equal(t, "数学", growth.knowledgePoints[0].Subject)
	require.Equal(t, 1, mem.invalidateCalls)
}

func TestHandleTurn_InjectsMemoryIntoSystemPrompt(t *testing.T) {
	convRepo := newFakeConversationRepo()
	mem := &fakeMemoryService{summary: "【深度兴趣】\n昆虫"}
	chatLLM := &capturingLLM{reply: "好呀"}

	svc := newTestChatService(convRepo, &fakeGrowthRepo{}, mem, chatLLM, &fakeLLMClient{reply: validExtractionJSON})
	svc.HandleTurn(context.Background(), 1, "你好", 0, "")

	require.Len(t, chatLLM.captured, 1)
	msgs := chatLLM.captured[0]
	require.Equal(t, model.RoleSystem, msgs[0].Role)
	require.Contains(t, msgs[0].Content, "豆豆")
	require.Contains(t, msgs[0].Content, "【深度兴趣】")
	require.Equal(t, model.RoleUser, msgs[len(msgs)-1].Role)
	require.Equal(t, "你好", msgs[len(msgs)-1].Content)
}

func TestHandleTurn_FirstConversationPlaceholder(t *testing.T) {
	convRepo := newFakeConversationRepo()
	chatLLM := &capturingLLM{reply: "好呀"}

	svc := newTestChatService(convRepo, &fakeGrowthRepo{}, &fakeMemoryService{summary: ""}, chatLLM, &fakeLLMClient{reply: validExtractionJSON})
	svc.HandleTurn(context.Background(), 1, "你好", 0, "")

	require.Contains(t, chatLLM.captured[0][0].Content, "第一次对话")
}

func TestHandleTurn_ChatFailureYieldsFailedPayload(t *testing.T) {
	convRepo := newFakeConversationRepo()
	chatLLM := &capturingLLM{err: errors.New("upstream down")}

	svc := newTestChatService(convRepo, &fakeGrowthRepo{}, &fakeMemoryService{}, chatLLM, &fakeLLMClient{})
	result := svc.HandleTurn(context.Background(), 1, "你好", 0, "")

	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
	require.Empty(t, result.Reply)
	// 失败的轮次不落任何消息
	require.Empty(t, convRepo.messages)
}

func TestHandleTurn_UnknownConversation(t *testing.T) {
	svc := newTestChatService(newFakeConversationRepo(), &fakeGrowthRepo{}, &fakeMemoryService{}, &capturingLLM{reply: "好"}, &fakeLLMClient{})

	result := svc.HandleTurn(context.Background(), 1, "你好", 999, "")
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)
}

func TestHandleTurn_AttachesToExistingConversation(t *testing.T) {
	convRepo := newFakeConversationRepo()
	chatLLM := &capturingLLM{reply: "好呀"}
	svc := newTestChatService(convRepo, &fakeGrowthRepo{}, &fakeMemoryService{}, chatLLM, &fakeLLMClient{reply: validExtractionJSON})

	first := svc.HandleTurn(context.Background(), 1, "第一句", 0, model.ModeFree)
	require.True(t, first.Success)

	second := svc.HandleTurn(context.Background(), 1, "第二句", first.ConversationID, model.ModeFree)
	require.True(t, second.Success)
	require.Equal(t, first.ConversationID, second.ConversationID)
	require.Equal(t, int64(2), second.TurnCount)
	require.Equal(t, model.ModeFree, second.Mode)

	// 第二轮的 prompt 应携带第一轮历史
	msgs := chatLLM.captured[1]
	var contents []string
	for _, m := range msgs {
		contents = append(contents, m.Content)
	}
	joined := strings.Join(contents, "\n")
	require.Contains(t, joined, "第一句")
}

// 提取输出不可解析时走关键词兜底，轮次本身仍然成功。
func TestHandleTurn_ExtractionFallback(t *testing.T) {
	convRepo := newFakeConversationRepo()
	growth := &fakeGrowthRepo{}
	svc := newTestChatService(convRepo, growth, &fakeMemoryService{}, &capturingLLM{reply: "听起来很开心呀"}, &fakeLLMClient{reply: "不是JSON"})

	result := svc.HandleTurn(context.Background(), 1, "今天数学课老师教了圆的面积公式，我很开心", 0, "")

	require.True(t, result.Success)
	require.NotNil(t, result.Extracted)
	require.True(t, result.Extracted.Fallback)
	require.Len(t, growth.knowledgePoints, 1)
	require.Equal(t, 0.6, growth.knowledgePoints[0].ConfidenceScore)
	require.Len(t, growth.emotions, 1)
	require.Equal(t, 7, growth.emotions[0].Intensity)
}

// 兜底素材落库时补结构化子字段默认值。
func TestHandleTurn_WritingDefaultsAppliedAtPersist(t *testing.T) {
	convRepo := newFakeConversationRepo()
	growth := &fakeGrowthRepo{}
	svc := newTestChatService(convRepo, growth, &fakeMemoryService{}, &capturingLLM{reply: "真不错"}, &fakeLLMClient{err: errors.New("down")})

	result := svc.HandleTurn(context.Background(), 1, "周末妈妈带我去公园放风筝，玩得很开心", 0, "")
	require.True(t, result.Success)

	require.Len(t, growth.writingMaterials, 1)
	row := growth.writingMaterials[0]
	require.Equal(t, "今天", row.EventTime)
	require.Equal(t, "未知地点", row.Location)
	require.Equal(t, []string{"我"}, model.DecodeStringList(row.People))
}

// 无维度命中时不触发摘要失效。
func TestHandleTurn_NoDimensionsNoInvalidate(t *testing.T) {
	mem := &fakeMemoryService{}
	svc := newTestChatService(newFakeConversationRepo(), &fakeGrowthRepo{}, mem, &capturingLLM{reply: "嗯嗯"}, &fakeLLMClient{reply: `{"knowledge":null,"writing":null,"social":null,"emotion":null}`})

	result := svc.HandleTurn(context.Background(), 1, "嗯", 0, "")
	require.True(t, result.Success)
	require.Equal(t, 0, mem.invalidateCalls)
}

// 摘要获取失败只降级为空注入，不阻断轮次。
func TestHandleTurn_SummaryErrorDegrades(t *testing.T) {
	mem := &fakeMemoryService{summaryErr: errors.New("redis down")}
	chatLLM := &capturingLLM{reply: "好呀"}
	svc := newTestChatService(newFakeConversationRepo(), &fakeGrowthRepo{}, mem, chatLLM, &fakeLLMClient{reply: validExtractionJSON})

	result := svc.HandleTurn(context.Background(), 1, "你好", 0, "")
	require.True(t, result.Success)
	require.Contains(t, chatLLM.captured[0][0].Content, "第一次对话")
}

func TestHandleTurn_ModeInstruction(t *testing.T) {
	chatLLM := &capturingLLM{reply: "好呀"}
	svc := newTestChatService(newFakeConversationRepo(), &fakeGrowthRepo{}, &fakeMemoryService{}, chatLLM, &fakeLLMClient{reply: validExtractionJSON})

	svc.HandleTurn(context.Background(), 1, "你好", 0, model.ModeFree)
	require.Contains(t, chatLLM.captured[0][0].Content, "free模式")

	svc.HandleTurn(context.Background(), 1, "你好", 0, "")
	require.Contains(t, chatLLM.captured[1][0].Content, "knowledge模式")
}

// 会话归属校验：一个孩子不能向另一个孩子的会话写入轮次。
func TestHandleTurn_RejectsForeignConversation(t *testing.T) {
	convRepo := newFakeConversationRepo()
	growth := &fakeGrowthRepo{}
	svc := newTestChatService(convRepo, growth, &fakeMemoryService{}, &capturingLLM{reply: "好呀"}, &fakeLLMClient{reply: validExtractionJSON})

	first := svc.HandleTurn(context.Background(), 1, "今天数学课学了圆的面积公式", 0, "")
	require.True(t, first.Success)
	messagesBefore := len(convRepo.messages)
	pointsBefore := len(growth.knowledgePoints)

	// 孩子 2 试图挂到孩子 1 的会话上
	result := svc.HandleTurn(context.Background(), 2, "我也学了", first.ConversationID, "")
	require.False(t, result.Success)
	require.NotEmpty(t, result.Error)

	// 不写消息，不写维度行，会话归属不变
	require.Len(t, convRepo.messages, messagesBefore)
	require.Len(t, growth.knowledgePoints, pointsBefore)
	require.Equal(t, uint(1), convRepo.conversations[first.ConversationID].ChildID)
}

func TestStreamTurn_RejectsForeignConversation(t *testing.T) {
	convRepo := newFakeConversationRepo()
	conv := &model.Conversation{ChildID: 1, Mode: model.ModeKnowledge, IsActive: true}
	require.NoError(t, convRepo.CreateConversation(context.Background(), conv))

	svc := newTestChatService(convRepo, &fakeGrowthRepo{}, &fakeMemoryService{}, &capturingLLM{reply: "好"}, &fakeLLMClient{reply: validExtractionJSON})
	sink := &fakeStreamConn{}

	err := svc.StreamTurn(context.Background(), 2, "你好", conv.ID, "", sink, nil)
	require.Error(t, err)
	require.Empty(t, sink.frames)
	require.Empty(t, convRepo.messages)
}

// fakeStreamConn 记录下发的帧。
type fakeStreamConn struct {
	frames [][]byte
}

func (f *fakeStreamConn) WriteMessage(messageType int, data []byte) error {
	f.frames = append(f.frames, data)
	return nil
}

// streamingLLM 把固定分块依次写入 writer。
type streamingLLM struct {
	chunks []string
	err    error
}

func (s *streamingLLM) Chat(ctx context.Context, messages []model.ChatMessage, gen *llm.GenerationParams) (string, error) {
	return strings.Join(s.chunks, ""), s.err
}

func (s *streamingLLM) StreamChatMessages(ctx context.Context, messages []model.ChatMessage, gen *llm.GenerationParams, writer llm.MessageWriter) error {
	if s.err != nil {
		return s.err
	}
	for _, chunk := range s.chunks {
		if err := writer.WriteMessage(1, []byte(chunk)); err != nil {
			return err
		}
	}
	return nil
}

func TestStreamTurn_StreamsChunksThenPersistsFullAnswer(t *testing.T) {
	convRepo := newFakeConversationRepo()
	growth := &fakeGrowthRepo{}
	streamLLM := &streamingLLM{chunks: []string{"哇，圆的面积公式！", "你还记得是怎么算的吗？"}}
	svc := newTestChatService(convRepo, growth, &fakeMemoryService{}, streamLLM, &fakeLLMClient{reply: validExtractionJSON})
	sink := &fakeStreamConn{}

	err := svc.StreamTurn(context.Background(), 1, "今天数学课学了圆的面积公式", 0, "", sink, nil)
	require.NoError(t, err)

	// 每个分块包装为 {"chunk":"..."}，最后一帧是完成通知
	require.Len(t, sink.frames, 3)
	var chunk map[string]string
	require.NoError(t, json.Unmarshal(sink.frames[0], &chunk))
	require.Equal(t, "哇，圆的面积公式！", chunk["chunk"])

	var completion map[string]interface{}
	require.NoError(t, json.Unmarshal(sink.frames[2], &completion))
	require.Equal(t, "completion", completion["type"])
	require.Equal(t, "finished", completion["status"])

	// 完整回复在流结束后落库，并对完整答案做提取
	require.Len(t, convRepo.messages, 2)
	require.Equal(t, model.RoleUser, convRepo.messages[0].Role)
	require.Equal(t, "哇，圆的面积公式！你还记得是怎么算的吗？", convRepo.messages[1].Content)
	require.Len(t, growth.knowledgePoints, 1)
}

func TestStreamTurn_StopFlagSuppressesChunks(t *testing.T) {
	convRepo := newFakeConversationRepo()
	streamLLM := &streamingLLM{chunks: []string{"第一块", "第二块"}}
	svc := newTestChatService(convRepo, &fakeGrowthRepo{}, &fakeMemoryService{}, streamLLM, &fakeLLMClient{reply: validExtractionJSON})
	sink := &fakeStreamConn{}

	err := svc.StreamTurn(context.Background(), 1, "你好", 0, "", sink, func() bool { return true })
	require.NoError(t, err)

	// 停止标志生效时分块不下发，只剩完成通知
	require.Len(t, sink.frames, 1)
	var completion map[string]interface{}
	require.NoError(t, json.Unmarshal(sink.frames[0], &completion))
	require.Equal(t, "completion", completion["type"])
}

func TestStreamTurn_UpstreamErrorPersistsNothing(t *testing.T) {
	convRepo := newFakeConversationRepo()
	streamLLM := &streamingLLM{err: errors.New("upstream down")}
	svc := newTestChatService(convRepo, &fakeGrowthRepo{}, &fakeMemoryService{}, streamLLM, &fakeLLMClient{})
	sink := &fakeStreamConn{}

	err := svc.StreamTurn(context.Background(), 1, "你好", 0, "", sink, nil)
	require.Error(t, err)
	require.Empty(t, convRepo.messages)
}

// 历史窗口裁剪：超出窗口的最早消息不进入 prompt。
func TestComposeMessages_TrimsHistoryWindow(t *testing.T) {
	convRepo := newFakeConversationRepo()
	conv := &model.Conversation{ChildID: 1, Mode: model.ModeFree, IsActive: true}
	require.NoError(t, convRepo.CreateConversation(context.Background(), conv))
	for i := 0; i < 30; i++ {
		require.NoError(t, convRepo.AppendMessage(context.Background(), &model.Message{
			ConversationID: conv.ID,
			Role:           model.RoleUser,
			Content:        fmt.Sprintf("消息%d", i),
		}))
	}

	chatLLM := &capturingLLM{reply: "好"}
	svc := newTestChatService(convRepo, &fakeGrowthRepo{}, &fakeMemoryService{}, chatLLM, &fakeLLMClient{reply: validExtractionJSON})
	svc.HandleTurn(context.Background(), 1, "新消息", conv.ID, model.ModeFree)

	msgs := chatLLM.captured[0]
	// system + 20 条历史 + 本轮消息
	require.Len(t, msgs, 22)
	joined := ""
	for _, m := range msgs {
		joined += m.Content + "\n"
	}
	require.NotContains(t, joined, "消息9\n")
	require.Contains(t, joined, "消息10\n")
	require.Contains(t, joined, "消息29\n")
}
