package domain

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func TestRunReport_Finalize_SortAndSummaryAndUTC(t *testing.T) {
	r := RunReport{
		DirA:       "a",
		DirB:       "b",
		StartedAt:  time.Date(2026, 2, 9, 10, 0, 0, 0, time.FixedZone("X", 8*3600)),
		FinishedAt: time.Date(2026, 2, 9, 10, 0, 1, 0, time.FixedZone("X", 8*3600)),
		Items: []JobResult{
			{Index: 2, Output: "out/c.psd", Status: StatusSucceeded},
			{Index: 1, Output: "out/a.psd", Status: StatusFailed, ErrorCode: ErrCodeDecodeFailed},
			{Index: 0, Output: "out/a.psd", Status: StatusSucceeded},
		},
	}

	r.Finalize()

	// 按 output 排序；output 相同则按 index。
	if r.Items[0].Index != 0 || r.Items[1].Index != 1 || r.Items[2].Index != 2 {
		t.Fatalf("items 排序不符合契约：%+v", r.Items)
	}
	if r.Summary.Total != 3 || r.Summary.Succeeded != 2 || r.Summary.Failed != 1 {
		t.Fatalf("summary 统计不正确：%+v", r.Summary)
	}

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"started_at\":\"2026-02-09T02:00:00Z\"")) {
		t.Fatalf("started_at 不是 UTC RFC3339：%s", string(b))
	}
}

func TestRunReport_Finalize_NilItemsEncodeAsEmptyArray(t *testing.T) {
	var r RunReport
	r.Finalize()

	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("json.Marshal 失败：%v", err)
	}
	if !bytes.Contains(b, []byte("\"items\":[]")) {
		t.Fatalf("items 应输出为 []：%s", string(b))
	}
}

