package database

import (
	"time"

	"gorm.io/gorm"
)

// 用户角色。
const (
	RoleCandidate = "CANDIDATE"
	RoleRecruiter = "RECRUITER"
	RoleAdmin     = "ADMIN"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Email             string `gorm:"uniqueIndex;size:255"`
	PasswordHash      string `gorm:"size:255"`
	FullName          string `gorm:"size:255"`
	Role              string `gorm:"size:32;default:CANDIDATE;index"`
	PreferredLanguage string `gorm:"size:8;default:en"`
	IsActive          bool   `gorm:"default:true"`
	LastLoginAt       *time.Time

	TotalInterviews int `gorm:"default:0"`
	TotalCVs        int `gorm:"default:0"`

	Subscription *Subscription `gorm:"constraint:OnDelete:CASCADE"`
}
