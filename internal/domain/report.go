package domain

import (
	"encoding/json"
	"sort"
	"time"
)

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

const (
	ErrCodeDecodeFailed   = "decode_failed"
	ErrCodeEncodeFailed   = "encode_failed"
	ErrCodeCanceled       = "canceled"
	ErrCodeInternal       = "internal_error"
	ErrCodeTargetConflict = "target_conflict"
)

// RunReport 是对外稳定输出（report.json / stdout JSON）的结构。
type RunReport struct {
	RunID   string `json:"run_id"`
	DirA    string `json:"dir_a"`
	DirB    string `json:"dir_b"`
	Output  string `json:"output"`
	Gray    bool   `json:"gray"`
	Workers int    `json:"workers"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// ErrorCode/ErrorMsg 只在运行在提交任务之前失败时出现（配置/配对/输出目录）。
	ErrorCode string `json:"error_code,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`

	Summary ReportSummary `json:"summary"`
	Items   []JobResult   `json:"items"`
}

type ReportSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// JobResult 是单个合成任务的结果（成功，或带错误码的失败）。
type JobResult struct {
	Index   int    `json:"index"`
	Key     string `json:"key"`
	SourceA string `json:"source_a"`
	SourceB string `json:"source_b"`
	Output  string `json:"output"`

	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	ErrorMsg  string `json:"error_msg"`

	// 成功时为文档画布尺寸与每个图层的通道数。
	Width    int `json:"width"`
	Height   int `json:"height"`
	Channels int `json:"channels"`

	DurationMS int64 `json:"duration_ms"`
}

// Failed 报告该任务是否失败。
func (r JobResult) Failed() bool { return r.Status == StatusFailed }

// Finalize 做三件事：
// 1) 时间统一为 UTC
// 2) items 稳定排序：按 output 字典序，相同时按 index
// 3) summary 由 items 计算得出
func (r *RunReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	if r.Items == nil {
		r.Items = []JobResult{}
	}
	sort.SliceStable(r.Items, func(i, j int) bool {
		a, b := r.Items[i], r.Items[j]
		if a.Output != b.Output {
			return a.Output < b.Output
		}
		return a.Index < b.Index
	})

	s := ReportSummary{Total: len(r.Items)}
	for _, it := range r.Items {
		switch it.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		}
	}
	r.Summary = s
}

// MarshalJSON 仅用于集中约束输出的稳定性。
func (r RunReport) MarshalJSON() ([]byte, error) {
	type Alias RunReport
	return json.Marshal(Alias(r))
}
