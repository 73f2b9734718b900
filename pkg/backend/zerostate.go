package backend

import (
	"context"

	"qbatch/pkg/model/batch"
)

// ZeroState 为参考后端: 每次试验都产生全零结果. 它不做任何门级仿真,
// 只用于打通控制器到后端的执行链路(服务演示与联调).
type ZeroState struct{}

func NewZeroState() *ZeroState { return &ZeroState{} }

func (*ZeroState) Name() string { return "zerostate" }

func (*ZeroState) OpSet() batch.OpSet {
	return batch.NewOpSet(
		"id", "x", "y", "z", "h", "s", "sdg", "t", "tdg",
		"cx", "cz", "swap", "u1", "u2", "u3",
		"measure", "reset", "barrier", "pauli_error",
	)
}

// RequiredMemoryMB 按满状态向量估算: 16 字节 × 2^qubits.
func (*ZeroState) RequiredMemoryMB(job *batch.Job, _ *batch.ErrorModel) uint64 {
	if job.Qubits <= 0 {
		return 0
	}
	if job.Qubits >= 44 {
		// 2^44 × 16B 已超出 64 位 MB 表示的实用范围, 饱和处理
		return 1 << 44
	}
	return (uint64(16) << uint(job.Qubits)) >> 20
}

func (*ZeroState) Run(ctx context.Context, job *batch.Job, _ *batch.ErrorModel, spec RunSpec) (Payload, error) {
	if err := ctx.Err(); err != nil {
		return Payload{}, err
	}
	p := Payload{Counts: make(map[string]uint64)}
	if spec.Shots > 0 {
		p.Counts["0x0"] = uint64(spec.Shots)
	}
	p.Metadata = map[string]any{"method": "zerostate"}
	return p, nil
}
