package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

var (
	ErrNotFound   = errors.New("document not found")
	ErrInvalidKey = errors.New("invalid cache key")
)

// Store defines the interface for a document cache backend.
// Keys are slash separated relative paths (e.g. "assets/1.20.json").
// Implementations can be local disk, S3, or a decorator over either.
type Store interface {
	// Put 持久化一份原始文档 (字节原样保存，不做解析)
	Put(ctx context.Context, key string, data []byte) error

	// Get 根据 Key 读取原始数据
	// 返回 io.ReadCloser 以支持流式读取，大的资源索引不必一次性复制
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Has 检查文档是否已缓存
	Has(ctx context.Context, key string) (bool, error)
}

// CleanKey 规范化 Key，并拒绝逃逸出缓存根目录的路径
func CleanKey(key string) (string, error) {
	k := strings.ReplaceAll(key, "\\", "/")
	for _, seg := range strings.Split(k, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	k = strings.TrimPrefix(path.Clean("/"+k), "/")
	if k == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return k, nil
}
