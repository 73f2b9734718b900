package controller

import (
	"sort"

	qerrors "qbatch/pkg/errors"
)

// planJobParallelism 决定本进程组可同时运行多少个作业(作业级并行).
// 估算值按降序累加, 取总内存不超过 预算×组大小 的最大前缀; 每个作业的内存
// 本身分摊在组内各进程上, 故估算值先除以组大小. 连最大的单个作业都放不下时
// 以内存不足错误终止整个运行.
func (p *ExecutionPlan) planJobParallelism(estimates []uint64) error {
	maxJobs := p.MaxThreads
	if p.CapJobs > 0 {
		maxJobs = min(p.CapJobs, p.MaxThreads)
	}

	// 退化快速路径: 单进程且上限为 1
	if maxJobs == 1 && p.NumProcesses == 1 {
		p.ParallelJobs = 1
		return nil
	}

	assigned := p.AssignedJobs()
	if assigned == 0 {
		p.ParallelJobs = 1
		return nil
	}

	if p.Unconstrained {
		p.ParallelJobs = max(1, min(maxJobs, assigned))
		return nil
	}

	required := make([]uint64, assigned)
	for i := range required {
		required[i] = estimates[p.JobBegin+i] / uint64(p.GroupSize)
	}
	sort.Slice(required, func(i, j int) bool { return required[i] > required[j] })

	budget := p.MemoryMB * uint64(p.GroupSize)
	var total uint64
	count := 0
	for _, mb := range required {
		total += mb
		if total > budget {
			break
		}
		count++
	}
	if count <= 0 {
		return &qerrors.OutOfMemoryError{RequiredMB: required[0] * uint64(p.GroupSize), BudgetMB: budget}
	}

	p.ParallelJobs = min(count, maxJobs, p.MaxThreads, assigned)
	return nil
}

// planJobShots 为单个作业决定试验级并行度与第三层(状态更新)线程预算.
// 与作业级并行互斥: 作业级并行 >1 时试验级恒为 1. 按值返回, 并发执行的
// 作业之间不共享可变规划状态.
func (p *ExecutionPlan) planJobShots(estimateMB uint64, totalShots int) (shotPlan, error) {
	sp := shotPlan{share: p.ShotShare(totalShots)}

	if p.Explicit {
		sp.parallel = p.ParallelShots
		sp.stateUpdate = p.ParallelStateUpdate
		sp.nested = sp.parallel > 1 && sp.stateUpdate > 1
		return sp, nil
	}

	// 先做内存可行性检查: 组内分摊后仍超预算的作业无论并行与否都无法执行
	var perGroup uint64
	if !p.Unconstrained {
		perGroup = estimateMB / uint64(p.GroupSize)
		if p.MemoryMB < perGroup {
			return sp, &qerrors.OutOfMemoryError{RequiredMB: perGroup, BudgetMB: p.MemoryMB}
		}
	}

	maxShots := p.MaxThreads
	if p.CapShots > 0 {
		maxShots = min(p.CapShots, p.MaxThreads)
	}

	if maxShots == 1 || p.ParallelJobs > 1 {
		sp.parallel = 1
	} else if p.Unconstrained {
		sp.parallel = max(1, min(maxShots, sp.share))
	} else {
		// 估算为 0 时置 1, 避免除零
		feasible := int(p.MemoryMB / max(perGroup, 1))
		sp.parallel = max(1, min(feasible, maxShots, sp.share))
	}

	// 剩余线程分给第三层; 外层已占满线程时不值得再开嵌套
	if sp.parallel > 1 {
		sp.stateUpdate = max(1, p.MaxThreads/sp.parallel)
	} else {
		sp.stateUpdate = max(1, p.MaxThreads/max(1, p.ParallelJobs))
	}
	sp.nested = !p.Nested && sp.parallel > 1 && sp.stateUpdate > 1
	return sp, nil
}
