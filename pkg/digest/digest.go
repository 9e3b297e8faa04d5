package digest

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"mcsync/pkg/types"
)

// ChunkSize 是流式读取时的缓冲大小
const ChunkSize = 8 * 1024

// IOError 表示本地文件无法读取
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("io error on %s: %v", e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// Mismatch 表示文件内容与期望摘要不一致
type Mismatch struct {
	Path     string
	Expected types.Hash
	Actual   types.Hash
}

func (e *Mismatch) Error() string {
	return fmt.Sprintf("sha1 mismatch for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Verifier 计算并比对本地文件的内容摘要
// 没有任何副作用，可以被多个 goroutine 共享
type Verifier struct {
	newHash func() hash.Hash
}

// NewVerifier 返回使用 SHA-1 的校验器 (资源目录使用的算法)
func NewVerifier() *Verifier {
	return &Verifier{newHash: sha1.New}
}

// Sum 对任意流计算摘要
func (v *Verifier) Sum(r io.Reader) (types.Hash, error) {
	h := v.newHash()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", err
	}
	return types.Hash(hex.EncodeToString(h.Sum(nil))), nil
}

// Digest 以固定大小的块读取文件并返回摘要，不会把整个文件读进内存
func (v *Verifier) Digest(path string) (types.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	defer f.Close()

	sum, err := v.Sum(f)
	if err != nil {
		return "", &IOError{Path: path, Err: err}
	}
	return sum, nil
}

// Matches 文件不存在时返回 false (不是错误)，存在时才计算并比对
func (v *Verifier) Matches(path string, expected types.Hash) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, &IOError{Path: path, Err: err}
	}

	actual, err := v.Digest(path)
	if err != nil {
		return false, err
	}
	return actual == types.Normalize(string(expected)), nil
}

// Verify 在不匹配时返回 *Mismatch，便于调用方直接作为失败原因上报
func (v *Verifier) Verify(path string, expected types.Hash) error {
	actual, err := v.Digest(path)
	if err != nil {
		return err
	}
	want := types.Normalize(string(expected))
	if actual != want {
		return &Mismatch{Path: path, Expected: want, Actual: actual}
	}
	return nil
}
