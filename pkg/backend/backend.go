// Package backend defines the narrow interface the execution controller
// needs from a simulation backend: an identifying name, the supported
// instruction set, a per-job memory estimate, and trial execution. The
// controller depends only on this interface and never recomputes memory
// estimates itself.
package backend

import (
	"context"

	"qbatch/pkg/model/batch"
)

// RunSpec 为一次试验 worker 的执行参数. Shots 为该 worker 负责的试验次数,
// Seed 为该 worker 的确定性种子(基种子 + worker 序号).
type RunSpec struct {
	Shots int
	Seed  int64
	// StateThreads 为留给第三层(内部状态更新)并行的线程数.
	StateThreads int
	// Nested 指示是否值得开启嵌套线程. 外层已占满线程时为 false.
	Nested bool
	// ValidationThreshold 透传给后端校验, 不参与调度计算.
	ValidationThreshold float64
}

// Payload 为试验 worker 的输出. 跨 worker 合并必须满足交换律与结合律,
// 使结果内容与 worker 完成顺序无关.
type Payload struct {
	Counts   map[string]uint64 `json:"counts"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// Merge 将 other 累加进 p. 计数按键求和而非覆盖.
func (p *Payload) Merge(other Payload) {
	if other.Counts != nil {
		if p.Counts == nil {
			p.Counts = make(map[string]uint64, len(other.Counts))
		}
		for k, v := range other.Counts {
			p.Counts[k] += v
		}
	}
	for k, v := range other.Metadata {
		if p.Metadata == nil {
			p.Metadata = make(map[string]any, len(other.Metadata))
		}
		p.Metadata[k] = v
	}
}

// Backend 为仿真后端的能力接口.
type Backend interface {
	// Name 返回后端标识名称.
	Name() string
	// OpSet 返回后端支持的指令集合.
	OpSet() batch.OpSet
	// RequiredMemoryMB 估算执行某作业所需内存(MB). 调度器视其为权威值.
	RequiredMemoryMB(job *batch.Job, noise *batch.ErrorModel) uint64
	// Run 执行一个作业的 spec.Shots 次试验并返回合并前的局部输出.
	Run(ctx context.Context, job *batch.Job, noise *batch.ErrorModel, spec RunSpec) (Payload, error)
}
