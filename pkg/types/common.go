// pkg/types/common.go
package types

import "strings"

// Hash 代表文件内容的摘要 (SHA-1 Hex String, 小写)
// 这是一个“值对象”，应当是不可变的。
type Hash string

func (h Hash) String() string { return string(h) }

// 验证 Hash 合法性
func (h Hash) IsZero() bool  { return h == "" }
func (h Hash) IsValid() bool { return len(h) == 40 && isHex(string(h)) }

// Shard 返回用于目录分片的前两个字符
// Example: "abcd1234..." -> "ab"
func (h Hash) Shard() string {
	if len(h) < 2 {
		return string(h)
	}
	return string(h[:2])
}

// Normalize 统一大小写和首尾空白，清单里偶尔会出现大写摘要
func Normalize(s string) Hash {
	return Hash(strings.ToLower(strings.TrimSpace(s)))
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return false
		}
	}
	return true
}
