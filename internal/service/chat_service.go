package service

import (
	"context"
	"encoding/json"
	"fmt"
	"learnsmart-go/internal/config"
	"learnsmart-go/internal/model"
	"learnsmart-go/internal/repository"
	"learnsmart-go/pkg/kafka"
	"learnsmart-go/pkg/llm"
	"learnsmart-go/pkg/log"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ChatService 定义了对话编排的操作接口。
type ChatService interface {
	// HandleTurn 处理一个完整轮次。对外从不返回 error：
	// 任何环节失败都折叠为 Success=false 的结果负载。
	HandleTurn(ctx context.Context, childID uint, message string, conversationID uint, mode string) *model.TurnResult
	// StreamTurn 以流式方式处理一个轮次，回复分块写入 conn（通常是 WebSocket 连接）；
	// 流结束后对完整回复执行提取与落库。
	StreamTurn(ctx context.Context, childID uint, message string, conversationID uint, mode string, conn llm.MessageWriter, shouldStop func() bool) error
}

// chatService 是 ChatService 接口的实现。
type chatService struct {
	conversationRepo  repository.ConversationRepository
	growthRepo        repository.GrowthRepository
	memoryService     MemoryService
	extractionService ExtractionService
	llmClient         llm.Client
	lookbackDays      int
	historyTurns      int
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	conversationRepo repository.ConversationRepository,
	growthRepo repository.GrowthRepository,
	memoryService MemoryService,
	extractionService ExtractionService,
	llmClient llm.Client,
	memCfg config.MemoryConfig,
	chatCfg config.ChatConfig,
) ChatService {
	return &chatService{
		conversationRepo:  conversationRepo,
		growthRepo:        growthRepo,
		memoryService:     memoryService,
		extractionService: extractionService,
		llmClient:         llmClient,
		lookbackDays:      memCfg.LookbackDays,
		historyTurns:      chatCfg.HistoryTurns,
	}
}

// HandleTurn 按固定管道处理轮次：会话 → prompt → 补全 → 提取 → 落库 → 统计。
func (s *chatService) HandleTurn(ctx context.Context, childID uint, message string, conversationID uint, mode string) *model.TurnResult {
	if mode == "" {
		mode = model.ModeKnowledge
	}

	// 1. 加载或创建对话会话
	conv, err := s.resolveConversation(ctx, childID, conversationID, mode)
	if err != nil {
		return failTurn(err)
	}

	// 2. 构建 system prompt（注入记忆摘要）
	systemPrompt := s.buildSystemPrompt(ctx, childID, mode)

	// 3. 加载对话历史并调用模型
	messages := s.composeMessages(ctx, systemPrompt, conv.ID, message)
	reply, err := s.llmClient.Chat(ctx, messages, nil)
	if err != nil {
		return failTurn(fmt.Errorf("对话补全失败: %w", err))
	}

	// 4-7. 提取、落库、统计
	result, err := s.finishTurn(ctx, childID, conv, message, reply)
	if err != nil {
		return failTurn(err)
	}

	log.Infof("对话成功 - child=%d, conv=%d, mode=%s", childID, conv.ID, mode)
	return result
}

// StreamTurn 与 HandleTurn 走同一条管道，但回复通过 WebSocket 流式下发，
// 完整回复在流结束后再做提取与落库。
func (s *chatService) StreamTurn(ctx context.Context, childID uint, message string, conversationID uint, mode string, conn llm.MessageWriter, shouldStop func() bool) error {
	if mode == "" {
		mode = model.ModeKnowledge
	}

	conv, err := s.resolveConversation(ctx, childID, conversationID, mode)
	if err != nil {
		return err
	}

	systemPrompt := s.buildSystemPrompt(ctx, childID, mode)
	messages := s.composeMessages(ctx, systemPrompt, conv.ID, message)

	// 拦截下行 writer 以捕获完整答案，并包装为 JSON 分块
	answerBuilder := &strings.Builder{}
	interceptor := &wsWriterInterceptor{conn: conn, writer: answerBuilder, shouldStop: shouldStop}

	if err := s.llmClient.StreamChatMessages(ctx, messages, nil, interceptor); err != nil {
		return err
	}

	sendCompletion(conn, conv.ID)

	fullAnswer := answerBuilder.String()
	if len(fullAnswer) > 0 {
		// 使用后台上下文：即使客户端断开，也要完成已生成回复的提取与落库
		if _, err := s.finishTurn(context.Background(), childID, conv, message, fullAnswer); err != nil {
			log.Errorf("流式轮次落库失败: child=%d, conv=%d, err=%v", childID, conv.ID, err)
		}
	}
	return nil
}

// resolveConversation 校验传入的会话 ID，缺省时创建新会话。
func (s *chatService) resolveConversation(ctx context.Context, childID uint, conversationID uint, mode string) (*model.Conversation, error) {
	if conversationID != 0 {
		conv, err := s.conversationRepo.FindConversation(ctx, conversationID)
		if err != nil {
			return nil, fmt.Errorf("会话不存在: %w", err)
		}
		// 会话归属校验：一个会话只属于一个孩子，禁止跨孩子写入
		if conv.ChildID != childID {
			return nil, fmt.Errorf("会话 %d 不属于孩子 %d", conversationID, childID)
		}
		return conv, nil
	}
	conv := &model.Conversation{ChildID: childID, Mode: mode, IsActive: true}
	if err := s.conversationRepo.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("创建会话失败: %w", err)
	}
	return conv, nil
}

// finishTurn 执行轮次的后半段：提取 → 写两条消息 → 写维度行 → 统计与事件。
func (s *chatService) finishTurn(ctx context.Context, childID uint, conv *model.Conversation, message, reply string) (*model.TurnResult, error) {
	extracted := s.extractionService.Extract(ctx, message, reply)

	// 先 user 后 assistant，两条消息的顺序是硬性约定
	if err := s.conversationRepo.AppendMessage(ctx, &model.Message{
		ConversationID: conv.ID, Role: model.RoleUser, Content: message,
	}); err != nil {
		return nil, fmt.Errorf("保存用户消息失败: %w", err)
	}
	if err := s.conversationRepo.AppendMessage(ctx, &model.Message{
		ConversationID: conv.ID, Role: model.RoleAssistant, Content: reply,
	}); err != nil {
		return nil, fmt.Errorf("保存回复消息失败: %w", err)
	}

	dimensions, err := s.persistExtraction(ctx, childID, conv.ID, extracted)
	if err != nil {
		return nil, err
	}

	turnCount, err := s.conversationRepo.CountUserMessages(ctx, conv.ID)
	if err != nil {
		return nil, fmt.Errorf("统计轮次失败: %w", err)
	}

	if len(dimensions) > 0 {
		s.memoryService.InvalidateSummary(ctx, childID)
		kafka.PublishGrowthEvent(ctx, kafka.GrowthEvent{
			ChildID:        childID,
			ConversationID: conv.ID,
			Dimensions:     dimensions,
			Fallback:       extracted.Fallback,
			OccurredAt:     time.Now().UnixMilli(),
		})
	}

	return &model.TurnResult{
		Success:        true,
		Reply:          reply,
		ConversationID: conv.ID,
		Mode:           conv.Mode,
		TurnCount:      turnCount,
		Extracted:      extracted,
	}, nil
}

// persistExtraction 把出现的维度各写一行，返回写入的维度名列表。
func (s *chatService) persistExtraction(ctx context.Context, childID, conversationID uint, extracted *model.ExtractionResult) ([]string, error) {
	var dimensions []string

	if k := extracted.Knowledge; k != nil {
		if err := s.growthRepo.CreateKnowledgePoint(ctx, &model.KnowledgePoint{
			ChildID:         childID,
			ConversationID:  conversationID,
			Source:          k.Source,
			Subject:         k.Subject,
			Content:         k.Content,
			ConfidenceScore: k.ConfidenceScore,
		}); err != nil {
			return nil, fmt.Errorf("保存知识点失败: %w", err)
		}
		dimensions = append(dimensions, "knowledge")
	}

	if w := extracted.Writing; w != nil {
		// 兜底路径只带原始描述，落库时统一补必填子字段的默认值
		row := &model.WritingMaterial{
			ChildID:          childID,
			ConversationID:   conversationID,
			EventDescription: w.EventDescription,
			EventTime:        w.EventTime,
			Location:         w.Location,
			People:           model.EncodeStringList(w.People),
			SensoryDetails:   model.EncodeStringMap(w.SensoryDetails),
			Feelings:         w.Feelings,
		}
		if row.EventTime == "" {
			row.EventTime = "今天"
		}
		if row.Location == "" {
			row.Location = "未知地点"
		}
		if len(w.People) == 0 {
			row.People = model.EncodeStringList([]string{"我"})
		}
		if err := s.growthRepo.CreateWritingMaterial(ctx, row); err != nil {
			return nil, fmt.Errorf("保存作文素材失败: %w", err)
		}
		dimensions = append(dimensions, "writing")
	}

	if so := extracted.Social; so != nil {
		if err := s.growthRepo.CreateSocialEvent(ctx, &model.SocialEvent{
			ChildID:            childID,
			ConversationID:     conversationID,
			RelationshipType:   so.RelationshipType,
			EventContext:       so.EventContext,
			BehaviorPattern:    so.BehaviorPattern,
			ResolutionStrategy: so.ResolutionStrategy,
		}); err != nil {
			return nil, fmt.Errorf("保存社交事件失败: %w", err)
		}
		dimensions = append(dimensions, "social")
	}

	if e := extracted.Emotion; e != nil {
		intensity := e.Intensity
		if intensity == 0 {
			intensity = defaultIntensity(e.EmotionType)
		}
		if err := s.growthRepo.CreateEmotion(ctx, &model.Emotion{
			ChildID:        childID,
			ConversationID: conversationID,
			EmotionType:    e.EmotionType,
			Intensity:      intensity,
			TriggerEvent:   e.TriggerEvent,
			CopingStrategy: e.CopingStrategy,
		}); err != nil {
			return nil, fmt.Errorf("保存情绪记录失败: %w", err)
		}
		dimensions = append(dimensions, "emotion")
	}

	return dimensions, nil
}

// buildSystemPrompt 构建伙伴人设 prompt 并注入记忆摘要。
// 摘要获取失败只降级为空注入，不阻断轮次。
func (s *chatService) buildSystemPrompt(ctx context.Context, childID uint, mode string) string {
	summary, err := s.memoryService.Summarize(ctx, childID, s.lookbackDays)
	if err != nil {
		log.Warnf("获取记忆摘要失败: child=%d, err=%v", childID, err)
		summary = ""
	}
	if summary == "" {
		summary = "（这是你们的第一次对话，还没有历史记忆）"
	}

	modeInstruction := "knowledge模式: 需确保提取2-3个知识点，自然引导多维度话题"
	if mode == model.ModeFree {
		modeInstruction = "free模式: 深度探讨孩子感兴趣的话题，无知识点要求"
	}

	return fmt.Sprintf(`你是豆豆，一个温暖有爱的AI学习伙伴，专门陪伴孩子记录每天的学习与成长。

【关于这个孩子】
%s

【当前模式】
%s

【核心任务】
1. 自然对话，了解孩子今天的学习和生活
2. 在对话中留意知识点、作文素材、社交事件、情绪和兴趣
3. 动态调整话题难度，不让孩子感到压力
4. 每次回复控制在三句话以内，多提开放式问题

【对话示例】
孩子: 今天数学课学了圆的面积公式
豆豆: 哇，圆的面积公式！你还记得是怎么算的吗？老师有没有讲为什么是这样呢？

孩子: 我今天和小明吵架了，有点难过
豆豆: 抱抱你，和好朋友吵架确实不好受。愿意和豆豆说说是因为什么事吗？

现在开始对话吧！`, summary, modeInstruction)
}

// composeMessages 拼接 system prompt、最近历史与本轮消息。
// 历史加载失败只降级为空历史。
func (s *chatService) composeMessages(ctx context.Context, systemPrompt string, conversationID uint, userInput string) []model.ChatMessage {
	var history []model.Message
	if s.historyTurns > 0 {
		var err error
		history, err = s.conversationRepo.RecentMessages(ctx, conversationID, s.historyTurns*2)
		if err != nil {
			log.Errorf("加载对话历史失败: conv=%d, err=%v", conversationID, err)
			history = nil
		}
	}

	msgs := make([]model.ChatMessage, 0, len(history)+2)
	msgs = append(msgs, model.ChatMessage{Role: model.RoleSystem, Content: systemPrompt})
	for _, m := range history {
		msgs = append(msgs, model.ChatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, model.ChatMessage{Role: model.RoleUser, Content: userInput})
	return msgs
}

func failTurn(err error) *model.TurnResult {
	log.Errorf("对话失败: %v", err)
	return &model.TurnResult{Success: false, Error: err.Error()}
}

// wsWriterInterceptor 封装下行连接，捕获写入的消息分块。
type wsWriterInterceptor struct {
	conn       llm.MessageWriter
	writer     *strings.Builder
	shouldStop func() bool
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *wsWriterInterceptor) WriteMessage(messageType int, data []byte) error {
	if w.shouldStop != nil && w.shouldStop() {
		// 停止标志生效：跳过下发
		return nil
	}
	w.writer.Write(data)
	// 将原始分块包装成 {"chunk":"..."}
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

// sendCompletion 发送完成通知 JSON
func sendCompletion(conn llm.MessageWriter, conversationID uint) {
	notif := map[string]interface{}{
		"type":            "completion",
		"status":          "finished",
		"conversation_id": conversationID,
		"timestamp":       time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
