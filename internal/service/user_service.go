package service

import (
	"errors"
	"learnsmart-go/internal/model"
	"learnsmart-go/internal/repository"
	"learnsmart-go/pkg/hash"
	"learnsmart-go/pkg/token"

	"gorm.io/gorm"
)

// UserService 接口定义了家长账号与孩子档案相关的业务操作。
type UserService interface {
	Register(username, password string) (*model.Parent, error)
	Login(username, password string) (accessToken, refreshToken string, err error)
	GetProfile(username string) (*model.Parent, error)
	RefreshToken(refreshTokenString string) (newAccessToken, newRefreshToken string, err error)

	CreateChild(parentID uint, name, gradeLevel, healthNotes string) (*model.Child, error)
	ListChildren(parentID uint) ([]model.Child, error)
	GetChild(parentID, childID uint) (*model.Child, error)
}

// userService 是 UserService 接口的实现。
type userService struct {
	parentRepo repository.ParentRepository
	childRepo  repository.ChildRepository
	jwtManager *token.JWTManager
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(parentRepo repository.ParentRepository, childRepo repository.ChildRepository, jwtManager *token.JWTManager) UserService {
	return &userService{
		parentRepo: parentRepo,
		childRepo:  childRepo,
		jwtManager: jwtManager,
	}
}

// Register 处理家长注册的业务逻辑。
func (s *userService) Register(username, password string) (*model.Parent, error) {
	// 1. 检查用户名是否已存在
	_, err := s.parentRepo.FindByUsername(username)
	if err == nil {
		return nil, errors.New("用户名已存在")
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// 2. 对密码进行哈希处理
	hashedPassword, err := hash.HashPassword(password)
	if err != nil {
		return nil, err
	}

	// 3. 创建新账号
	parent := &model.Parent{
		Username: username,
		Password: hashedPassword,
		Role:     "USER",
	}
	if err := s.parentRepo.Create(parent); err != nil {
		return nil, err
	}
	return parent, nil
}

// Login 校验凭证并签发 access / refresh token。
func (s *userService) Login(username, password string) (string, string, error) {
	parent, err := s.parentRepo.FindByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", errors.New("invalid credentials")
		}
		return "", "", err
	}

	if !hash.CheckPassword(password, parent.Password) {
		return "", "", errors.New("invalid credentials")
	}

	accessToken, err := s.jwtManager.GenerateToken(parent.ID, parent.Username, parent.Role)
	if err != nil {
		return "", "", err
	}
	refreshToken, err := s.jwtManager.GenerateRefreshToken(parent.ID, parent.Username, parent.Role)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// GetProfile 根据用户名获取家长信息。
func (s *userService) GetProfile(username string) (*model.Parent, error) {
	return s.parentRepo.FindByUsername(username)
}

// RefreshToken 用有效的 refresh token 换发新的一对 token。
func (s *userService) RefreshToken(refreshTokenString string) (string, string, error) {
	claims, err := s.jwtManager.VerifyRefreshToken(refreshTokenString)
	if err != nil {
		return "", "", errors.New("invalid refresh token")
	}

	parent, err := s.parentRepo.FindByUsername(claims.Username)
	if err != nil {
		return "", "", errors.New("user not found")
	}

	newAccessToken, err := s.jwtManager.GenerateToken(parent.ID, parent.Username, parent.Role)
	if err != nil {
		return "", "", err
	}
	newRefreshToken, err := s.jwtManager.GenerateRefreshToken(parent.ID, parent.Username, parent.Role)
	if err != nil {
		return "", "", err
	}
	return newAccessToken, newRefreshToken, nil
}

// CreateChild 在家长名下创建孩子档案。
func (s *userService) CreateChild(parentID uint, name, gradeLevel, healthNotes string) (*model.Child, error) {
	child := &model.Child{
		ParentID:    parentID,
		Name:        name,
		GradeLevel:  gradeLevel,
		HealthNotes: healthNotes,
	}
	if err := s.childRepo.Create(child); err != nil {
		return nil, err
	}
	return child, nil
}

// ListChildren 返回家长名下的全部孩子档案。
func (s *userService) ListChildren(parentID uint) ([]model.Child, error) {
	return s.childRepo.FindByParent(parentID)
}

// GetChild 获取孩子档案并校验归属。
func (s *userService) GetChild(parentID, childID uint) (*model.Child, error) {
	child, err := s.childRepo.FindByID(childID)
	if err != nil {
		return nil, err
	}
	if child.ParentID != parentID {
		return nil, errors.New("孩子档案不属于当前账号")
	}
	return child, nil
}
