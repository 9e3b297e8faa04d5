package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher_NoRules(t *testing.T) {
	// 1. 空目录 + 无配置规则
	matcher, err := NewMatcher(t.TempDir())
	require.NoError(t, err)

	assert.False(t, matcher.Matches("libraries/org/lwjgl/lwjgl.jar"))
	assert.False(t, matcher.Matches("assets/objects/ab/abcd"))

	var nilMatcher *Matcher
	assert.False(t, nilMatcher.Matches("anything"))
}

func TestMatcher_WithUserFileAndConfig(t *testing.T) {
	// 1. 创建临时目录
	tmpDir := t.TempDir()

	// 2. 创建 .mcsyncignore 文件，写入自定义规则
	ignoreContent := `
# 这是注释
versions/1.8.9
*-natives-osx.jar
!keep-natives-osx.jar
`
	err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte(ignoreContent), 0644)
	require.NoError(t, err)

	// 3. 初始化 Matcher (文件规则 + 配置规则)
	matcher, err := NewMatcher(tmpDir, "assets/objects")
	require.NoError(t, err)

	tests := []struct {
		path     string
		shouldIg bool
	}{
		// --- 文件规则 ---
		{"versions/1.8.9/1.8.9.jar", true},
		{"libraries/org/lwjgl/lwjgl-platform-2.9.4-natives-osx.jar", true},
		// --- 配置规则 ---
		{"assets/objects/ab/abcd1234", true},
		// --- 负向规则 ---
		{"libraries/x/keep-natives-osx.jar", false},
		// --- 正常文件 ---
		{"versions/1.20.1/1.20.1.jar", false},
		{"libraries/org/lwjgl/lwjgl-platform-2.9.4-natives-linux.jar", false},
		{"assets/indexes/5.json", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.shouldIg, matcher.Matches(tt.path), "Path: %s", tt.path)
		})
	}
}

func TestMatcher_ConfigOnly(t *testing.T) {
	matcher, err := NewMatcher(t.TempDir(), "*.ogg")
	require.NoError(t, err)

	assert.True(t, matcher.Matches("assets/virtual/legacy/sounds/a.ogg"))
	assert.False(t, matcher.Matches("assets/virtual/legacy/sounds/a.png"))
}
