package types

import (
	"sort"
	"strings"
)

// Platform 是清单中 os.name 使用的平台名
type Platform string

const (
	OSX     Platform = "osx"
	Linux   Platform = "linux"
	Windows Platform = "windows"
)

// AllPlatforms 是规则求值的全集
var AllPlatforms = []Platform{OSX, Linux, Windows}

// PlatformSet 是平台的集合 (值语义，所有操作都返回新集合)
type PlatformSet map[Platform]struct{}

// NewPlatformSet 用给定的平台构造集合
func NewPlatformSet(ps ...Platform) PlatformSet {
	s := make(PlatformSet, len(ps))
	for _, p := range ps {
		s[p] = struct{}{}
	}
	return s
}

// FullSet 返回 {osx, linux, windows}
func FullSet() PlatformSet { return NewPlatformSet(AllPlatforms...) }

func (s PlatformSet) Has(p Platform) bool {
	_, ok := s[p]
	return ok
}

// Union 返回 s ∪ o
func (s PlatformSet) Union(o PlatformSet) PlatformSet {
	out := make(PlatformSet, len(s)+len(o))
	for p := range s {
		out[p] = struct{}{}
	}
	for p := range o {
		out[p] = struct{}{}
	}
	return out
}

// Minus 返回 s \ o
func (s PlatformSet) Minus(o PlatformSet) PlatformSet {
	out := make(PlatformSet, len(s))
	for p := range s {
		if !o.Has(p) {
			out[p] = struct{}{}
		}
	}
	return out
}

// Intersect 返回 s ∩ o
func (s PlatformSet) Intersect(o PlatformSet) PlatformSet {
	out := make(PlatformSet)
	for p := range s {
		if o.Has(p) {
			out[p] = struct{}{}
		}
	}
	return out
}

// Sorted 返回排序后的平台列表，便于日志和测试断言
func (s PlatformSet) Sorted() []Platform {
	out := make([]Platform, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s PlatformSet) String() string {
	names := make([]string, 0, len(s))
	for _, p := range s.Sorted() {
		names = append(names, string(p))
	}
	return "{" + strings.Join(names, ",") + "}"
}
