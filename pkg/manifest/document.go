package manifest

import (
	"encoding/json"
	"fmt"
	"os"

	"mcsync/pkg/rules"
	"mcsync/pkg/types"
)

// Download 是清单中一个可下载文件的描述
// client / artifact / classifier / assetIndex 共用这一结构
type Download struct {
	URL  string     `json:"url"`
	SHA1 types.Hash `json:"sha1,omitempty"`
	Size int64      `json:"size,omitempty"`
	// Path 是相对 libraries/ 的路径，只有库文件才有
	Path string `json:"path,omitempty"`
}

// LibraryDownloads 对应 libraries[].downloads
type LibraryDownloads struct {
	Artifact    *Download           `json:"artifact,omitempty"`
	Classifiers map[string]Download `json:"classifiers,omitempty"`
}

// Library 对应 libraries[] 中的一项
type Library struct {
	Name      string            `json:"name,omitempty"`
	Rules     []rules.Rule      `json:"rules,omitempty"`
	Downloads *LibraryDownloads `json:"downloads,omitempty"`
}

// AssetIndexRef 对应版本清单中的 assetIndex
type AssetIndexRef struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	SHA1      types.Hash `json:"sha1,omitempty"`
	TotalSize int64      `json:"totalSize,omitempty"`
}

// Version 是一个版本清单 (versions/<id>/<id>.json)
// 解析后不再修改，只在一次解析过程中存活
type Version struct {
	ID        string `json:"id"`
	Downloads struct {
		Client *Download `json:"client,omitempty"`
	} `json:"downloads"`
	Libraries  []Library      `json:"libraries,omitempty"`
	AssetIndex *AssetIndexRef `json:"assetIndex,omitempty"`
}

// AssetObject 是资源索引中的一项，只使用 hash
type AssetObject struct {
	Hash types.Hash `json:"hash"`
	Size int64      `json:"size,omitempty"`
}

// AssetIndex 是资源索引文档 (assets/<id>.json)
type AssetIndex struct {
	Objects map[string]AssetObject `json:"objects"`
}

// ParseVersion 解析版本清单
func ParseVersion(data []byte) (*Version, error) {
	var v Version
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode version manifest: %w", err)
	}
	return &v, nil
}

// ParseAssetIndex 解析资源索引
func ParseAssetIndex(data []byte) (*AssetIndex, error) {
	var idx AssetIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to decode asset index: %w", err)
	}
	return &idx, nil
}

// LoadVersionFile 从本地文件读取版本清单
func LoadVersionFile(path string) (*Version, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	v, err := ParseVersion(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
