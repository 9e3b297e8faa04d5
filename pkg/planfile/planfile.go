package planfile

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mcsync/pkg/types"

	"github.com/fxamacker/cbor/v2"
)

// FormatVersion 计划文件格式版本，不兼容的变更需要递增
const FormatVersion = 1

var ErrUnsupportedVersion = errors.New("planfile: unsupported format version")

// 规范化编码选项：相同的计划永远得到相同的字节，从而得到相同的 ID
var encOptions = cbor.EncOptions{
	// 1. Map Key 排序
	Sort: cbor.SortCanonical,
	// 2. 时间统一写成 Unix 整数
	Time:    cbor.TimeUnix,
	TimeTag: cbor.EncTagNone,
	// 3. 禁止不定长编码
	IndefLength: cbor.IndefLengthForbidden,
}

var em, _ = encOptions.EncMode()

var decOptions = cbor.DecOptions{
	// 计划可能包含几千个 asset，上限放宽到 1<<20，仍然拒绝恶意的巨大头部
	MaxArrayElements: 1 << 20,
	MaxMapPairs:      1 << 10,
	MaxNestedLevels:  16,

	IndefLength: cbor.IndefLengthForbidden,
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	TimeTag:     cbor.DecTagIgnored,
}

var dm, _ = decOptions.DecMode()

// Plan 是一次 sync 解析并比对后得到的待下载任务列表
type Plan struct {
	Version   int          `cbor:"v"`
	Root      string       `cbor:"root"`
	CreatedAt time.Time    `cbor:"at"`
	Sources   []string     `cbor:"src"`
	Tasks     []types.Task `cbor:"tasks"`
}

func New(root string, sources []string, tasks []types.Task) *Plan {
	return &Plan{
		Version:   FormatVersion,
		Root:      root,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		Sources:   sources,
		Tasks:     tasks,
	}
}

// Encode 返回计划的规范化 CBOR 编码和它的内容 ID (编码字节的 SHA-1)
func Encode(p *Plan) (types.Hash, []byte, error) {
	data, err := em.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal plan: %w", err)
	}
	sum := sha1.Sum(data)
	return types.Hash(hex.EncodeToString(sum[:])), data, nil
}

func Decode(data []byte) (*Plan, error) {
	var p Plan
	if err := dm.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	if p.Version != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, p.Version)
	}
	return &p, nil
}

// Write 原子写入计划文件，返回计划 ID
func Write(path string, p *Plan) (types.Hash, error) {
	id, data, err := Encode(p)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".plan-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return id, nil
}

func Read(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data)
}
