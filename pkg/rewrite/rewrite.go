// Package rewrite provides the job-rewriting passes the executor applies
// before scheduling a job: stripping no-op instructions and truncating
// trailing unused qubits. Passes mutate the job (and the error model) in
// place, matching the contract the controller expects from its rewriting
// collaborators.
package rewrite

import (
	"fmt"

	"qbatch/pkg/model/batch"
)

// Pass 为作业重写接口. Optimize 原地修改 job 与 noise.
type Pass interface {
	Name() string
	Optimize(job *batch.Job, noise *batch.ErrorModel) error
}

// Default 返回执行器默认的 pass 链: 先去除 no-op, 再截断未用资源.
func Default() []Pass {
	return []Pass{
		&StripNoops{Names: []string{"barrier", "nop", "delay"}},
		&TruncateQubits{},
	}
}

// StripNoops 删除对仿真结果无影响的指令(如 barrier).
type StripNoops struct {
	Names []string
}

func (*StripNoops) Name() string { return "strip_noops" }

func (p *StripNoops) Optimize(job *batch.Job, _ *batch.ErrorModel) error {
	if len(p.Names) == 0 || len(job.Ops) == 0 {
		return nil
	}
	noop := make(map[string]struct{}, len(p.Names))
	for _, n := range p.Names {
		noop[n] = struct{}{}
	}
	kept := job.Ops[:0]
	for _, op := range job.Ops {
		if _, ok := noop[op.Name]; ok {
			continue
		}
		kept = append(kept, op)
	}
	job.Ops = kept
	return nil
}

// TruncateQubits 截断作业末尾未被任何指令引用的资源, 同步过滤错误模型中
// 只作用于被截断资源的指令. 指令引用了不存在的资源时报错.
type TruncateQubits struct{}

func (*TruncateQubits) Name() string { return "truncate_qubits" }

func (p *TruncateQubits) Optimize(job *batch.Job, noise *batch.ErrorModel) error {
	if len(job.Ops) == 0 {
		return nil
	}
	highest := -1
	for i, op := range job.Ops {
		for _, q := range op.Qubits {
			if q < 0 || q >= job.Qubits {
				return fmt.Errorf("instruction %d (%s) references qubit %d outside [0,%d)", i, op.Name, q, job.Qubits)
			}
			if q > highest {
				highest = q
			}
		}
	}
	if highest < 0 {
		// 指令均不引用具体资源, 保持原状
		return nil
	}
	used := highest + 1
	if used >= job.Qubits {
		return nil
	}
	job.Qubits = used
	if noise.IsIdeal() {
		return nil
	}
	kept := noise.Ops[:0]
	for _, op := range noise.Ops {
		inRange := true
		for _, q := range op.Qubits {
			if q >= used {
				inRange = false
				break
			}
		}
		if inRange {
			kept = append(kept, op)
		}
	}
	noise.Ops = kept
	return nil
}
