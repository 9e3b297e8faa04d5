package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
)

// CatalogURL 是官方版本目录
const CatalogURL = "https://launchermeta.mojang.com/mc/game/version_manifest.json"

// CatalogKey 是版本目录在缓存中的位置
const CatalogKey = "versions/version_manifest.json"

// CatalogEntry 是版本目录中的一项
type CatalogEntry struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Catalog 是版本目录文档
type Catalog struct {
	Latest struct {
		Release  string `json:"release"`
		Snapshot string `json:"snapshot"`
	} `json:"latest"`
	Versions []CatalogEntry `json:"versions"`
}

// Lookup 按版本号查找，支持 "release" / "snapshot" 两个别名
func (c *Catalog) Lookup(id string) (CatalogEntry, bool) {
	switch id {
	case "release":
		id = c.Latest.Release
	case "snapshot":
		id = c.Latest.Snapshot
	}
	for _, v := range c.Versions {
		if v.ID == id {
			return v, true
		}
	}
	return CatalogEntry{}, false
}

// VersionKey 返回版本清单的缓存 Key: versions/<id>/<id>.json
func VersionKey(id string) string {
	return path.Join("versions", id, id+".json")
}

// JarKey 返回客户端 jar 相对根目录的位置: versions/<id>/<id>.jar
func JarKey(id string) string {
	return path.Join("versions", id, id+".jar")
}

// FetchCatalog 获取版本目录
// 与其他文档一样遵循“获取一次，永久复用”，需要刷新时删除缓存文件即可
func (f *Fetcher) FetchCatalog(ctx context.Context, url string) (*Catalog, error) {
	if url == "" {
		url = CatalogURL
	}
	data, err := f.Fetch(ctx, url, CatalogKey)
	if err != nil {
		return nil, err
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to decode version catalog: %w", err)
	}
	return &c, nil
}

// ResolveVersion 通过版本目录定位并获取版本清单
func (f *Fetcher) ResolveVersion(ctx context.Context, catalogURL, id string) (*Version, error) {
	c, err := f.FetchCatalog(ctx, catalogURL)
	if err != nil {
		return nil, err
	}
	entry, ok := c.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("version %q not found in catalog", id)
	}
	return f.FetchVersion(ctx, entry.URL, VersionKey(entry.ID))
}
