package rules

import "mcsync/pkg/types"

// Action 是规则的动作
type Action string

const (
	Allow    Action = "allow"
	Disallow Action = "disallow"
)

// OSPredicate 是规则的 os 条件
// Version 是正则形式的系统版本约束，这里只关心 key 是否出现 (空字符串也算)
type OSPredicate struct {
	Name    types.Platform `json:"name,omitempty"`
	Version *string        `json:"version,omitempty"`
	Arch    string         `json:"arch,omitempty"`
}

// PinsVersion 判断条件是否带有 version 约束
func (p *OSPredicate) PinsVersion() bool {
	return p != nil && p.Version != nil
}

// Rule 是 libraries[].rules 中的一条子句
type Rule struct {
	Action Action       `json:"action"`
	OS     *OSPredicate `json:"os,omitempty"`
}

// Evaluate 将规则列表折叠为平台集合
// 1. 空列表 -> 全集
// 2. 否则从空集开始，按顺序 allow 取并集、disallow 取差集 (后面的规则覆盖前面的)
// 纯函数，不做任何 I/O
func Evaluate(rules []Rule) types.PlatformSet {
	if len(rules) == 0 {
		return types.FullSet()
	}

	allowed := types.NewPlatformSet()
	for _, r := range rules {
		change := implied(r)
		if r.Action == Allow {
			allowed = allowed.Union(change)
		} else {
			allowed = allowed.Minus(change)
		}
	}
	return allowed
}

// implied 返回单条规则作用的平台集合
// 按版本禁用的 disallow 不移除任何平台，因为这里不建模系统版本。
// allow 带版本条件时照常按平台生效。
func implied(r Rule) types.PlatformSet {
	if r.OS == nil {
		return types.FullSet()
	}
	if r.Action == Disallow && r.OS.PinsVersion() {
		return types.NewPlatformSet()
	}
	if r.OS.Name == "" {
		// 只有 arch 之类条件的 os 子句：不对应任何平台名
		return types.NewPlatformSet()
	}
	return types.NewPlatformSet(r.OS.Name)
}
