package controller

import (
	"fmt"
)

// partitionProcesses 计算分布式几何: 先根据内存估算得出共享一个作业所需的
// 进程数(组大小), 再将进程划分为组, 并给每组分配连续且不相交的作业下标区间;
// 作业数少于组数时多组共享一个作业, 按试验份额切分.
//
// 所有进程用相同输入做相同的确定性计算, 执行期间无需再同步.
func (p *ExecutionPlan) partitionProcesses(estimates []uint64, numJobs int) error {
	if p.NumProcesses < 1 {
		return fmt.Errorf("invalid distributed geometry: %d processes", p.NumProcesses)
	}
	if p.Rank < 0 || p.Rank >= p.NumProcesses {
		return fmt.Errorf("invalid distributed geometry: rank %d of %d processes", p.Rank, p.NumProcesses)
	}

	p.GroupSize = 1
	if !p.Unconstrained {
		// 单个作业超出每进程预算时, 需要 ceil(estimate/budget) 个进程共享它;
		// 组大小取所有作业的最大需求, 使同一几何能服务每个作业. 需求超过进程
		// 总数时钳到进程总数: 剩余的超额在作业边界内表现为该作业的内存不足
		// 失败, 不影响兄弟作业
		for _, mb := range estimates {
			if mb > p.MemoryMB {
				need := min(int((mb+p.MemoryMB-1)/p.MemoryMB), p.NumProcesses)
				if need > p.GroupSize {
					p.GroupSize = need
				}
			}
		}
	}

	p.NumGroups = p.NumProcesses / p.GroupSize
	if p.GroupSize < 1 || p.NumGroups < 1 {
		return fmt.Errorf("invalid process group size %d for %d processes", p.GroupSize, p.NumProcesses)
	}
	p.GroupID = p.Rank / p.GroupSize
	p.RankInGroup = p.Rank % p.GroupSize
	p.ShotGroups = 1
	p.ShotRank = 0

	if numJobs == 0 {
		p.JobBegin, p.JobEnd = 0, 0
		return nil
	}

	if numJobs < p.NumGroups {
		// 作业少于组: 每个作业由 NumGroups/numJobs 个组认领, 余数循环分给
		// 靠前的作业; 共享者之间按试验份额切分
		p.JobBegin = p.GroupID % numJobs
		p.JobEnd = p.JobBegin + 1
		p.ShotGroups = p.NumGroups / numJobs
		if p.GroupID%numJobs < p.NumGroups%numJobs {
			p.ShotGroups++
		}
		p.ShotRank = p.GroupID / numJobs
		p.NumGroups = numJobs
	} else {
		// 作业不少于组: 连续区间尽量均分, 无需试验级分布
		p.JobBegin = numJobs * p.GroupID / p.NumGroups
		p.JobEnd = numJobs * (p.GroupID + 1) / p.NumGroups
	}
	return nil
}
