package database

import (
	"learnsmart-go/internal/model"
	"learnsmart-go/pkg/log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *gorm.DB

// InitMySQL 初始化 MySQL 数据库连接
func InitMySQL(dsn string) {
	var err error
	DB, err = gorm.Open(mysql.Open(dsn), &gorm.Config{
		// 可以在这里添加 GORM 的配置
	})
	if err != nil {
		log.Fatal("failed to connect database", err)
	}

	// 配置连接池
	sqlDB, err := DB.DB()
	if err != nil {
		log.Fatal("failed to get sql.DB", err)
	}

	sqlDB.SetMaxIdleConns(10)           // 设置空闲连接池中连接的最大数量
	sqlDB.SetMaxOpenConns(100)          // 设置打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour) // 设置了连接可复用的最大时间

	// 迁移核心表。personality_traits / user_memory / interest_intensity
	// 由画像分析侧负责建表，聚合读取对缺表降级，这里不迁移。
	err = DB.AutoMigrate(
		&model.Parent{},
		&model.Child{},
		&model.Conversation{},
		&model.Message{},
		&model.KnowledgePoint{},
		&model.WritingMaterial{},
		&model.SocialEvent{},
		&model.Emotion{},
	)
	if err != nil {
		log.Fatal("failed to migrate database", err)
	}

	log.Info("MySQL database connected successfully")
}
