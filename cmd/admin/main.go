// Command admin runs operator tasks against the database: bootstrap an admin
// account, seed plans and model pricing, export the cost report.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gorm.io/gorm"

	"interviewly/internal/admin"
	"interviewly/internal/auth"
	"interviewly/internal/config"
	"interviewly/internal/database"
	"interviewly/internal/quota"
)

const usage = `usage: admin <command> [flags]

commands:
  create-admin --email <email> [--name <full name>]
  seed-plans
  seed-pricing
  cost-report [--days 30] [--out report.xlsx]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	_ = godotenv.Load()

	dbCfg, err := loadDatabaseConfig()
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}
	db, err := database.InitDatabase(dbCfg)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	ctx := context.Background()
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "create-admin":
		err = createAdmin(ctx, db, args)
	case "seed-plans":
		err = quota.SeedDefaultPlans(ctx, db)
		if err == nil {
			fmt.Println("default plans seeded")
		}
	case "seed-pricing":
		err = quota.SeedModelPricing(ctx, db)
		if err == nil {
			fmt.Println("model pricing seeded")
		}
	case "cost-report":
		err = costReport(ctx, db, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s: %v", cmd, err)
	}
}

func createAdmin(ctx context.Context, db *gorm.DB, args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ExitOnError)
	email := fs.String("email", "", "管理员邮箱（必填）")
	name := fs.String("name", "Administrator", "显示名称")
	_ = fs.Parse(args)

	addr := strings.ToLower(strings.TrimSpace(*email))
	if addr == "" {
		return errors.New("missing required flag: --email")
	}

	var existing database.User
	switch err := db.WithContext(ctx).Where("email = ?", addr).First(&existing).Error; {
	case err == nil:
		if existing.Role == database.RoleAdmin {
			return fmt.Errorf("user %q is already an admin", addr)
		}
		// 已有账号直接提升为管理员，不改密码。
		if err := db.WithContext(ctx).Model(&existing).Update("role", database.RoleAdmin).Error; err != nil {
			return fmt.Errorf("promote user: %w", err)
		}
		fmt.Printf("已将 %s 提升为管理员\n", addr)
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return fmt.Errorf("query user: %w", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		return err
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user := database.User{
		Email:        addr,
		PasswordHash: hashed,
		FullName:     strings.TrimSpace(*name),
		Role:         database.RoleAdmin,
		IsActive:     true,
	}
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Printf("已创建管理员账号：\n")
	fmt.Printf("邮箱: %s\n", addr)
	fmt.Printf("初始密码: %s\n", password)
	fmt.Printf("提示：该密码仅显示一次。\n")
	return nil
}

func costReport(ctx context.Context, db *gorm.DB, args []string) error {
	fs := flag.NewFlagSet("cost-report", flag.ExitOnError)
	days := fs.Int("days", 30, "统计最近多少天")
	out := fs.String("out", "", "输出文件，默认使用报表文件名")
	_ = fs.Parse(args)

	stats := admin.NewService(db, quota.NewTokenUsageService(db, nil))
	data, filename, err := stats.CostReport(ctx, *days)
	if err != nil {
		return err
	}
	path := *out
	if path == "" {
		path = filename
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Printf("cost report written to %s\n", path)
	return nil
}

// loadDatabaseConfig 只读取数据库相关的环境变量，不要求 API 的其它配置。
func loadDatabaseConfig() (config.DatabaseConfig, error) {
	cfg := config.DatabaseConfig{
		Host:     envOr("DATABASE_HOST", "localhost"),
		Port:     5432,
		Name:     os.Getenv("POSTGRES_DB"),
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		SSLMode:  envOr("DATABASE_SSLMODE", "disable"),
	}
	if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
		p, err := strconv.Atoi(env)
		if err != nil {
			return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
		}
		cfg.Port = p
	}
	if strings.TrimSpace(cfg.Name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(cfg.User) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(cfg.Password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func generateRandomPassword(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
