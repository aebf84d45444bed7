package handler

import (
	"encoding/json"
	"fmt"
	"learnsmart-go/internal/service"
	"learnsmart-go/pkg/log"
	"learnsmart-go/pkg/token"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var (
	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // 允许所有来源
		},
	}
)

// ChatHandler 负责处理对话请求，包括同步 REST 轮次和 WebSocket 流式轮次。
type ChatHandler struct {
	chatService   service.ChatService
	userService   service.UserService
	jwtManager    *token.JWTManager
	stopToken     string
	stopTokenLock sync.Mutex
	// 每连接停止标志
	stopFlags sync.Map // key: session pointer string, value: bool
}

// NewChatHandler 创建一个新的 ChatHandler。
func NewChatHandler(chatService service.ChatService, userService service.UserService, jwtManager *token.JWTManager) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		userService: userService,
		jwtManager:  jwtManager,
	}
}

// SendRequest 定义了同步对话 API 的请求体结构。
type SendRequest struct {
	ChildID        uint   `json:"childId" binding:"required"`
	Message        string `json:"message" binding:"required"`
	ConversationID uint   `json:"conversationId"`
	Mode           string `json:"mode"`
}

// Send 处理一个同步对话轮次。
// 业务失败不映射为 HTTP 错误：失败同样返回 200，由负载中的 success 字段区分。
func (h *ChatHandler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Send: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：childId 和 message 不能为空",
		})
		return
	}

	parent := currentParent(c)
	if parent == nil {
		return
	}
	if _, err := h.userService.GetChild(parent.ID, req.ChildID); err != nil {
		c.JSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": err.Error()})
		return
	}

	result := h.chatService.HandleTurn(c.Request.Context(), req.ChildID, req.Message, req.ConversationID, req.Mode)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": result, "message": "success"})
}

// GetWebsocketStopToken 返回一个可用于停止流的令牌。
func (h *ChatHandler) GetWebsocketStopToken(c *gin.Context) {
	h.stopTokenLock.Lock()
	defer h.stopTokenLock.Unlock()
	// 在真实的多服务器设置中，这应该在 Redis 中生成和存储
	// 为简单起见，我们在这里使用一个单一的、轮换的令牌。
	h.stopToken = "WSS_STOP_CMD_" + token.GenerateRandomString(16)
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "success", "data": gin.H{"cmdToken": h.stopToken}})
}

// wsTurnRequest 是 WebSocket 上每条对话消息的结构。
type wsTurnRequest struct {
	ChildID        uint   `json:"childId"`
	Message        string `json:"message"`
	ConversationID uint   `json:"conversationId"`
	Mode           string `json:"mode"`
}

// Handle 处理一个传入的 WebSocket 连接，每条消息触发一个流式轮次。
func (h *ChatHandler) Handle(c *gin.Context) {
	tokenString := c.Param("token")
	claims, err := h.jwtManager.VerifyToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "无效的 token", "data": nil})
		return
	}

	parent, err := h.userService.GetProfile(claims.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": http.StatusInternalServerError, "message": "无法获取用户信息", "data": nil})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立，用户: %s", claims.Username)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}
		log.Infof("收到 WebSocket 消息: %s", string(message))

		var ctrl map[string]interface{}
		if len(message) > 0 && message[0] == '{' {
			if err := json.Unmarshal(message, &ctrl); err == nil {
				// 停止指令: {"type":"stop","_internal_cmd_token":"..."}
				if t, ok := ctrl["type"].(string); ok && t == "stop" {
					if tok, ok := ctrl["_internal_cmd_token"].(string); ok {
						h.stopTokenLock.Lock()
						valid := (tok == h.stopToken)
						h.stopTokenLock.Unlock()
						if valid {
							key := sessionKey(conn)
							h.stopFlags.Store(key, true)
							resp := map[string]interface{}{
								"type":      "stop",
								"message":   "响应已停止",
								"timestamp": time.Now().UnixMilli(),
								"date":      time.Now().Format("2006-01-02T15:04:05"),
							}
							b, _ := json.Marshal(resp)
							_ = conn.WriteMessage(websocket.TextMessage, b)
							continue
						}
					}
				}
			}
		}

		var req wsTurnRequest
		if err := json.Unmarshal(message, &req); err != nil || req.ChildID == 0 || req.Message == "" {
			writeWSError(conn, "无效的消息格式：需要 childId 和 message")
			continue
		}

		// 校验孩子档案归属，防止跨账号写入成长数据
		if _, err := h.userService.GetChild(parent.ID, req.ChildID); err != nil {
			writeWSError(conn, "孩子档案不属于当前账号")
			continue
		}

		shouldStop := func() bool {
			key := sessionKey(conn)
			v, ok := h.stopFlags.Load(key)
			return ok && v.(bool)
		}
		// 清除旧标志
		h.stopFlags.Delete(sessionKey(conn))

		err = h.chatService.StreamTurn(c.Request.Context(), req.ChildID, req.Message, req.ConversationID, req.Mode, conn, shouldStop)
		if err != nil {
			log.Errorf("处理流式响应失败: %v", err)
			writeWSError(conn, "豆豆有点累了，休息一下再来找我聊吧！")
			// 错误时也发送 completion 通知，方便前端收尾
			resp := map[string]interface{}{
				"type":      "completion",
				"status":    "finished",
				"timestamp": time.Now().UnixMilli(),
				"date":      time.Now().Format("2006-01-02T15:04:05"),
			}
			cb, _ := json.Marshal(resp)
			_ = conn.WriteMessage(websocket.TextMessage, cb)
			break
		}
	}
}

func writeWSError(conn *websocket.Conn, message string) {
	b, _ := json.Marshal(map[string]string{"error": message})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

func sessionKey(conn *websocket.Conn) string {
	return fmt.Sprintf("%p", conn)
}
