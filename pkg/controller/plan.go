package controller

// ExecutionPlan 为一次运行解析出的并行度与分布式几何. 每次运行构造一份独立
// 的 plan 值并在所有规划/执行步骤之间显式传递; 运行期间所有 worker 将其视为
// 只读, 绝不跨运行共享可变状态.
type ExecutionPlan struct {
	// 线程预算
	MaxThreads          int
	ParallelJobs        int
	ParallelShots       int
	ParallelStateUpdate int
	Nested              bool
	Explicit            bool

	// 内存预算(每进程, MB). Unconstrained 表示 0 哨兵: 禁用按内存分布的逻辑,
	// 只按线程/试验数约束.
	MemoryMB        uint64
	GPUMemoryMB     uint64
	Unconstrained   bool
	ValidationThres float64
	// AcceptDistributed 指示各进程局部结果按原样接受, 不要求合并.
	AcceptDistributed bool

	// 配置上限(解析后)
	CapJobs  int
	CapShots int

	// 分布式几何
	NumProcesses int
	Rank         int
	GroupSize    int // 共享一个作业的进程数
	NumGroups    int
	GroupID      int
	RankInGroup  int
	JobBegin     int // 本组作业下标区间 [JobBegin, JobEnd)
	JobEnd       int
	ShotGroups   int // 共享同一作业的组数 D
	ShotRank     int // 本组在共享者中的序号
}

// AssignedJobs 返回分配给本进程组的作业数.
func (p *ExecutionPlan) AssignedJobs() int { return p.JobEnd - p.JobBegin }

// ShotShare 返回本进程在 total 次试验中的份额. 共享者既可能是多组(作业少于
// 组), 也可能是同组内的多个进程(单个作业需要整组内存), 两者叠加:
// D = ShotGroups*GroupSize, r = ShotRank*GroupSize + RankInGroup.
// share = floor(total*(r+1)/D) - floor(total*r/D), 保证 D 份之和恰为 total
// 且各份相差至多 1.
func (p *ExecutionPlan) ShotShare(total int) int {
	d := p.ShotGroups * p.GroupSize
	r := p.ShotRank*p.GroupSize + p.RankInGroup
	return shotShare(total, r, d)
}

func shotShare(total, rank, groups int) int {
	if groups <= 1 {
		return total
	}
	return total*(rank+1)/groups - total*rank/groups
}

// splitShots 将 share 次试验分成 n 份, 每份 floor(share/n), 余数前置递增.
// 保证各份之和恰为 share 且相差至多 1.
func splitShots(share, n int) []int {
	sub := make([]int, n)
	for i := range sub {
		sub[i] = share / n
	}
	for i := 0; i < share%n; i++ {
		sub[i]++
	}
	return sub
}

// shotPlan 为单个作业解析出的试验级并行参数, 按值返回避免并发作业间共享.
type shotPlan struct {
	share       int // 本进程组拥有的试验次数
	parallel    int // 试验级并行度
	stateUpdate int // 留给第三层的线程数
	nested      bool
}
