package types

// Task 是一次传输的最小单元：远端地址 -> 本地路径 (+ 可选摘要)
// Task 创建后不再修改，各 Task 之间没有顺序关系。
type Task struct {
	URL  string `json:"url" cbor:"u"`
	Path string `json:"path" cbor:"p"`
	// SHA1 为空表示清单没有提供摘要 (资源文件永远有摘要)
	SHA1 Hash `json:"sha1,omitempty" cbor:"h,omitempty"`
}

// HasDigest 判断是否可以做内容校验
func (t Task) HasDigest() bool { return !t.SHA1.IsZero() }

// Outcome 是单个 Task 的终态
type Outcome string

const (
	OutcomeAlreadyValid Outcome = "already-valid"
	OutcomeDownloaded   Outcome = "downloaded"
	OutcomeFailed       Outcome = "failed"
)

// Result 是传输引擎对每个 Task 输出的结果
type Result struct {
	Task    Task
	Outcome Outcome
	Err     error // 仅当 Outcome == OutcomeFailed 时非空
	Bytes   int64 // 实际写入的字节数
}
