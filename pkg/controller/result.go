package controller

import (
	"encoding/json"
	"fmt"
	"strings"

	"qbatch/pkg/backend"
)

// Status 为作业/批次的执行状态.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partially_succeeded"
	StatusFailed    Status = "failed"
)

// JobOutcome 为单个作业的执行结果, 由作业执行器产出, 结果聚合器消费.
type JobOutcome struct {
	Status    Status          `json:"status"`
	Shots     int             `json:"shots"`   // 实际执行的试验次数(本进程份额)
	Seed      int64           `json:"seed"`    // 使用的基种子
	TimeTaken float64         `json:"time_taken"` // 秒
	Header    json.RawMessage `json:"header,omitempty"`
	Data      backend.Payload `json:"data"`
	Message   string          `json:"message,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// BatchResult 为批级结果: 每个分配到本进程组的作业占一个结果槽位, 运行开始
// 时预分配, 按作业下标顺序就地填充, 之后不再扩缩.
type BatchResult struct {
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Message   string          `json:"message,omitempty"`
	Outcomes  []JobOutcome    `json:"outcomes"`
	Header    json.RawMessage `json:"header,omitempty"`
	Metadata  map[string]any  `json:"metadata"`
	TimeTaken float64         `json:"time_taken"` // 秒
}

func newBatchResult(slots int) *BatchResult {
	return &BatchResult{
		Status:   StatusSucceeded,
		Outcomes: make([]JobOutcome, slots),
		Metadata: make(map[string]any),
	}
}

// reduce 将各作业状态归约为整体状态, 并按下标顺序拼接失败消息
// "[job <index>] <message>".
func (r *BatchResult) reduce() {
	if len(r.Outcomes) == 0 {
		r.Status = StatusSucceeded
		return
	}
	var sb strings.Builder
	succeeded, failed := 0, 0
	for i := range r.Outcomes {
		if r.Outcomes[i].Status == StatusSucceeded {
			succeeded++
			continue
		}
		failed++
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "[job %d] %s", i, r.Outcomes[i].Message)
	}
	switch {
	case failed == 0:
		r.Status = StatusSucceeded
	case succeeded == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
	if failed > 0 {
		r.Message = sb.String()
	}
}

// fail 将整个批次标记为失败(批级异常短路, 不再执行后续作业).
func (r *BatchResult) fail(msg string) {
	r.Status = StatusFailed
	r.Message = msg
}
