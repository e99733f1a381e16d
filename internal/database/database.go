package database

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"interviewly/internal/config"
)

// InitDatabase 使用配置初始化 PostgreSQL 连接，并返回 GORM 数据库实例。
func InitDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	logLevel := logger.Warn
	if cfg.LogSQL {
		logLevel = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap db: %w", err)
	}

	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return db, nil
}

// Models lists every table, in dependency order, for AutoMigrate.
func Models() []any {
	return []any{
		&User{},
		&PricingPlan{},
		&PlanPrice{},
		&PlanFeature{},
		&Subscription{},
		&UserFeatureUsage{},
		&ModelPricing{},
		&TokenUsageLog{},
		&InterviewSession{},
		&InterviewQuestion{},
		&InterviewAnswer{},
		&CVAnalysis{},
		&CVRewrite{},
		&CoverLetter{},
		&Company{},
		&RecruiterProfile{},
		&Job{},
		&JobSkill{},
		&Candidate{},
		&Application{},
		&Screening{},
		&Interview{},
		&InterviewMetric{},
		&InterviewFeedback{},
	}
}

// AutoMigrate 迁移全部表结构。
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
