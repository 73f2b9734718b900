package controller

import (
	"testing"

	qerrors "qbatch/pkg/errors"
)

func TestPlanJobParallelism(t *testing.T) {
	tests := []struct {
		name      string
		plan      ExecutionPlan
		estimates []uint64
		want      int
		wantOOM   bool
	}{
		{
			// 3 个小作业, 线程上限 4: 并行度取作业数
			name:      "jobs below thread budget",
			plan:      ExecutionPlan{MaxThreads: 4, NumProcesses: 1, MemoryMB: 1000, GroupSize: 1, NumGroups: 1, JobEnd: 3},
			estimates: []uint64{100, 100, 100},
			want:      3,
		},
		{
			// 降序前缀和超出预算时截断
			name:      "memory bound",
			plan:      ExecutionPlan{MaxThreads: 4, NumProcesses: 1, MemoryMB: 1000, GroupSize: 1, NumGroups: 1, JobEnd: 3},
			estimates: []uint64{600, 500, 400},
			want:      1,
		},
		{
			name:      "config cap wins",
			plan:      ExecutionPlan{MaxThreads: 8, CapJobs: 2, NumProcesses: 1, MemoryMB: 1000, GroupSize: 1, NumGroups: 1, JobEnd: 4},
			estimates: []uint64{10, 10, 10, 10},
			want:      2,
		},
		{
			name:      "cap one fast path",
			plan:      ExecutionPlan{MaxThreads: 8, CapJobs: 1, NumProcesses: 1, GroupSize: 1, NumGroups: 1, JobEnd: 4},
			estimates: []uint64{10, 10, 10, 10},
			want:      1,
		},
		{
			name:      "unconstrained budget",
			plan:      ExecutionPlan{MaxThreads: 4, NumProcesses: 1, Unconstrained: true, GroupSize: 1, NumGroups: 1, JobEnd: 8},
			estimates: make([]uint64, 8),
			want:      4,
		},
		{
			// 最大的作业独占预算都放不下: 批级内存不足
			name:      "largest job never fits",
			plan:      ExecutionPlan{MaxThreads: 4, NumProcesses: 1, MemoryMB: 1000, GroupSize: 1, NumGroups: 1, JobEnd: 1},
			estimates: []uint64{2000},
			wantOOM:   true,
		},
		{
			// 组大小 2: 估算分摊到组内进程, 预算按组放大
			name:      "group shares estimate",
			plan:      ExecutionPlan{MaxThreads: 4, NumProcesses: 2, MemoryMB: 1000, GroupSize: 2, NumGroups: 1, JobEnd: 2},
			estimates: []uint64{1500, 1500},
			want:      1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.plan
			err := p.planJobParallelism(tt.estimates)
			if tt.wantOOM {
				if !qerrors.IsOutOfMemory(err) {
					t.Fatalf("expected OutOfMemoryError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if p.ParallelJobs != tt.want {
				t.Fatalf("ParallelJobs=%d, want %d", p.ParallelJobs, tt.want)
			}
		})
	}
}

func TestPlanJobShots(t *testing.T) {
	tests := []struct {
		name            string
		plan            ExecutionPlan
		estimateMB      uint64
		shots           int
		wantParallel    int
		wantStateUpdate int
		wantNested      bool
		wantOOM         bool
	}{
		{
			// 内存允许 10 路, 线程只有 4: 取 4, 第三层无剩余
			name:            "thread bound",
			plan:            ExecutionPlan{MaxThreads: 4, ParallelJobs: 1, MemoryMB: 1000, GroupSize: 1, ShotGroups: 1},
			estimateMB:      100,
			shots:           100,
			wantParallel:    4,
			wantStateUpdate: 1,
		},
		{
			// 作业级并行已开启: 试验级恒为 1, 剩余线程归第三层
			name:            "exclusive with job level",
			plan:            ExecutionPlan{MaxThreads: 4, ParallelJobs: 2, MemoryMB: 1000, GroupSize: 1, ShotGroups: 1},
			estimateMB:      100,
			shots:           100,
			wantParallel:    1,
			wantStateUpdate: 2,
		},
		{
			// 上限 2 留出线程: 嵌套激活
			name:            "nested when threads remain",
			plan:            ExecutionPlan{MaxThreads: 4, ParallelJobs: 1, CapShots: 2, MemoryMB: 1000, GroupSize: 1, ShotGroups: 1},
			estimateMB:      100,
			shots:           100,
			wantParallel:    2,
			wantStateUpdate: 2,
			wantNested:      true,
		},
		{
			name:            "share smaller than threads",
			plan:            ExecutionPlan{MaxThreads: 8, ParallelJobs: 1, MemoryMB: 1000, GroupSize: 1, ShotGroups: 1},
			estimateMB:      1,
			shots:           2,
			wantParallel:    2,
			wantStateUpdate: 4,
			wantNested:      true,
		},
		{
			name:            "explicit override",
			plan:            ExecutionPlan{MaxThreads: 8, Explicit: true, ParallelJobs: 1, ParallelShots: 3, ParallelStateUpdate: 2, GroupSize: 1, ShotGroups: 1},
			estimateMB:      100,
			shots:           100,
			wantParallel:    3,
			wantStateUpdate: 2,
			wantNested:      true,
		},
		{
			// 组内分摊后仍超预算: 作业级内存不足
			name:       "per-group share exceeds budget",
			plan:       ExecutionPlan{MaxThreads: 4, ParallelJobs: 1, MemoryMB: 1000, GroupSize: 1, ShotGroups: 1},
			estimateMB: 2000,
			shots:      100,
			wantOOM:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := tt.plan
			sp, err := p.planJobShots(tt.estimateMB, tt.shots)
			if tt.wantOOM {
				if !qerrors.IsOutOfMemory(err) {
					t.Fatalf("expected OutOfMemoryError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if sp.parallel != tt.wantParallel {
				t.Fatalf("parallel=%d, want %d", sp.parallel, tt.wantParallel)
			}
			if sp.stateUpdate != tt.wantStateUpdate {
				t.Fatalf("stateUpdate=%d, want %d", sp.stateUpdate, tt.wantStateUpdate)
			}
			if sp.nested != tt.wantNested {
				t.Fatalf("nested=%v, want %v", sp.nested, tt.wantNested)
			}
			if sp.share != tt.shots {
				t.Fatalf("share=%d, want %d", sp.share, tt.shots)
			}
		})
	}
}

// 外层作业级并行已占满线程时不再激活嵌套.
func TestPlanJobShotsNoNestedWhenOuterSaturated(t *testing.T) {
	p := ExecutionPlan{MaxThreads: 4, ParallelJobs: 4, Nested: false, MemoryMB: 1000, GroupSize: 1, ShotGroups: 1}
	sp, err := p.planJobShots(100, 100)
	if err != nil {
		t.Fatal(err)
	}
	if sp.parallel != 1 || sp.nested {
		t.Fatalf("parallel=%d nested=%v, want 1/false", sp.parallel, sp.nested)
	}
}
