// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"learnsmart-go/internal/model"
	"learnsmart-go/internal/service"
	"learnsmart-go/pkg/log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理家长账号与孩子档案相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// RegisterRequest 定义了注册 API 的请求体结构。
type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register 处理家长注册请求。
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	// 绑定并验证 JSON 请求体
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Register: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：用户名和密码不能为空",
		})
		return
	}

	parent, err := h.userService.Register(req.Username, req.Password)
	if err != nil {
		log.Warnf("Register: registration failed for '%s', error: %v", req.Username, err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	log.Infof("User '%s' registered successfully", parent.Username)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "注册成功",
	})
}

// LoginRequest 定义了登录 API 的请求体结构。
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理家长登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Login: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：用户名和密码不能为空",
		})
		return
	}

	accessToken, refreshToken, err := h.userService.Login(req.Username, req.Password)
	if err != nil {
		log.Warnf("Login: authentication failed for '%s', error: %v", req.Username, err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    http.StatusUnauthorized,
			"message": "无效的凭证",
		})
		return
	}

	log.Infof("User '%s' logged in successfully", req.Username)
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "登录成功",
		"data": gin.H{
			"token":        accessToken,
			"refreshToken": refreshToken,
		},
	})
}

// GetProfile 获取当前登录账号的信息。
// 账号信息已经由 AuthMiddleware 注入到上下文中。
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": user, "message": "success"})
}

// CreateChildRequest 定义了创建孩子档案 API 的请求体结构。
type CreateChildRequest struct {
	Name        string `json:"name" binding:"required"`
	GradeLevel  string `json:"gradeLevel"`
	HealthNotes string `json:"healthNotes"`
}

// CreateChild 在当前账号名下创建孩子档案。
func (h *UserHandler) CreateChild(c *gin.Context) {
	var req CreateChildRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("CreateChild: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "无效的请求负载：孩子姓名不能为空",
		})
		return
	}

	parent := currentParent(c)
	if parent == nil {
		return
	}

	child, err := h.userService.CreateChild(parent.ID, req.Name, req.GradeLevel, req.HealthNotes)
	if err != nil {
		log.Error("CreateChild: failed to create child profile", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    http.StatusInternalServerError,
			"message": "创建孩子档案失败",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": child, "message": "success"})
}

// ListChildren 返回当前账号名下的全部孩子档案。
func (h *UserHandler) ListChildren(c *gin.Context) {
	parent := currentParent(c)
	if parent == nil {
		return
	}

	children, err := h.userService.ListChildren(parent.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": children, "message": "success"})
}

// GetChild 返回单个孩子档案，并校验归属。
func (h *UserHandler) GetChild(c *gin.Context) {
	parent := currentParent(c)
	if parent == nil {
		return
	}

	childID, err := strconv.ParseUint(c.Param("childId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": http.StatusBadRequest, "message": "无效的孩子ID"})
		return
	}

	child, err := h.userService.GetChild(parent.ID, uint(childID))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": http.StatusNotFound, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "data": child, "message": "success"})
}

// currentParent 从上下文取出 AuthMiddleware 注入的账号，取不到时写 500。
func currentParent(c *gin.Context) *model.Parent {
	userValue, exists := c.Get("user")
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "无法获取用户信息"})
		return nil
	}
	parent, ok := userValue.(*model.Parent)
	if !ok || parent == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "用户数据类型错误"})
		return nil
	}
	return parent
}
