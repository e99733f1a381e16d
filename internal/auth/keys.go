package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"interviewly/internal/config"
)

// LoadKeyPair 读取 RSA 密钥：优先使用内联 PEM，其次读取文件路径。
func LoadKeyPair(cfg config.AuthConfig) (privatePEM, publicPEM []byte, err error) {
	privatePEM, err = readPEM(cfg.PrivateKeyPEM, cfg.PrivateKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("private key: %w", err)
	}
	publicPEM, err = readPEM(cfg.PublicKeyPEM, cfg.PublicKeyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("public key: %w", err)
	}
	return privatePEM, publicPEM, nil
}

func readPEM(inline, path string) ([]byte, error) {
	if strings.TrimSpace(inline) != "" {
		// 环境变量中的换行经常被写成字面量 \n。
		return []byte(strings.ReplaceAll(inline, `\n`, "\n")), nil
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("neither pem nor path configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
