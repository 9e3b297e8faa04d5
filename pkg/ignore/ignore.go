package ignore

import (
	"os"
	"path/filepath"

	gitignore "github.com/sabhiram/go-gitignore"
)

// FileName 是内容根目录下的排除规则文件
const FileName = ".mcsyncignore"

// Matcher 封装了排除逻辑
// 它负责判断一个本地路径是否应该跳过同步 (例如不需要的声音资源或旧版本)
type Matcher struct {
	ignorer *gitignore.GitIgnore
}

// NewMatcher 初始化排除匹配器
// rootPath: 内容根目录（用于查找 .mcsyncignore 文件）
// extra: 来自配置文件 exclude 字段的规则
func NewMatcher(rootPath string, extra ...string) (*Matcher, error) {
	ignoreFilePath := filepath.Join(rootPath, FileName)

	if _, errStat := os.Stat(ignoreFilePath); errStat == nil {
		// 情况 A: 用户定义了 .mcsyncignore，把文件内容和配置规则合并编译
		ignorer, err := gitignore.CompileIgnoreFileAndLines(ignoreFilePath, extra...)
		if err != nil {
			return nil, err
		}
		return &Matcher{ignorer: ignorer}, nil
	}

	if len(extra) == 0 {
		// 没有任何规则：Matches 永远返回 false
		return &Matcher{}, nil
	}
	return &Matcher{ignorer: gitignore.CompileIgnoreLines(extra...)}, nil
}

// Matches 检查给定的路径是否匹配排除规则
// path: 相对于内容根目录的路径 (例如 "assets/objects/ab/abcd...")
// 返回: true 表示应该跳过, false 表示应该保留
func (m *Matcher) Matches(path string) bool {
	if m == nil || m.ignorer == nil {
		return false
	}
	return m.ignorer.MatchesPath(filepath.ToSlash(path))
}
