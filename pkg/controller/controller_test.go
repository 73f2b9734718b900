package controller

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"qbatch/internal/pkg/log"
	"qbatch/internal/pkg/sysinfo"
	"qbatch/pkg/backend"
	"qbatch/pkg/model/batch"
)

// fakeBackend 记录每次 Run 的参数, 输出以种子为键的计数, 便于断言种子分配
// 与合并结果和 worker 完成顺序无关.
type fakeBackend struct {
	mu   sync.Mutex
	runs []backend.RunSpec

	memMB    uint64
	memByJob map[string]uint64
	failJobs map[string]error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) OpSet() batch.OpSet {
	return batch.NewOpSet("x", "measure", "barrier", "nop", "delay", "pauli_error")
}

func (f *fakeBackend) RequiredMemoryMB(job *batch.Job, _ *batch.ErrorModel) uint64 {
	if mb, ok := f.memByJob[job.ID]; ok {
		return mb
	}
	return f.memMB
}

func (f *fakeBackend) Run(_ context.Context, job *batch.Job, _ *batch.ErrorModel, spec backend.RunSpec) (backend.Payload, error) {
	f.mu.Lock()
	f.runs = append(f.runs, spec)
	f.mu.Unlock()
	if err, ok := f.failJobs[job.ID]; ok {
		return backend.Payload{}, err
	}
	return backend.Payload{
		Counts: map[string]uint64{fmt.Sprintf("seed_%d", spec.Seed): uint64(spec.Shots)},
	}, nil
}

func testJob(id string, shots int, seed int64) batch.Job {
	return batch.Job{
		ID:     id,
		Qubits: 1,
		Shots:  shots,
		Seed:   seed,
		Ops: []batch.Instruction{
			{Name: "x", Qubits: []int{0}},
			{Name: "measure", Qubits: []int{0}},
		},
	}
}

func testController(f *fakeBackend, defaults Config) *Controller {
	probe := sysinfo.New(log.Nop(), sysinfo.WithHostReader(func() (uint64, error) { return 8192, nil }))
	return New(f, WithProbe(probe), WithLogger(log.Nop()), WithDefaults(defaults))
}

func explicitConfig(jobs, shots, state int) Config {
	cfg := DefaultConfig()
	cfg.MaxMemoryMB = 4096
	cfg.Explicit = true
	cfg.ParallelJobs = jobs
	cfg.ParallelShots = shots
	cfg.ParallelStateUpdate = state
	return cfg
}

// 试验 worker 的种子为基种子 + worker 序号, 子份额前置递增.
func TestExecuteJobsTrialWorkerSeeds(t *testing.T) {
	f := &fakeBackend{memMB: 10}
	c := testController(f, DefaultConfig())

	res, err := c.ExecuteJobs(context.Background(), batch.Jobs{testJob("a", 100, 42)}, nil, explicitConfig(1, 4, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSucceeded {
		t.Fatalf("Status=%q message=%q", res.Status, res.Message)
	}
	if len(f.runs) != 4 {
		t.Fatalf("got %d runs, want 4", len(f.runs))
	}
	seeds := make(map[int64]int)
	for _, spec := range f.runs {
		seeds[spec.Seed] = spec.Shots
	}
	for s := int64(42); s <= 45; s++ {
		if seeds[s] != 25 {
			t.Fatalf("seed %d got %d shots, want 25 (runs=%v)", s, seeds[s], f.runs)
		}
	}
	out := res.Outcomes[0]
	if out.Shots != 100 || out.Seed != 42 {
		t.Fatalf("outcome shots=%d seed=%d", out.Shots, out.Seed)
	}
	want := map[string]uint64{"seed_42": 25, "seed_43": 25, "seed_44": 25, "seed_45": 25}
	if !reflect.DeepEqual(out.Data.Counts, want) {
		t.Fatalf("counts = %v, want %v", out.Data.Counts, want)
	}
}

// 相同输入两次执行产生相同的合并结果, 与 worker 调度顺序无关.
func TestExecuteJobsDeterministic(t *testing.T) {
	cfg := explicitConfig(1, 8, 1)
	jobs := batch.Jobs{testJob("a", 1000, 7)}

	var counts []map[string]uint64
	for i := 0; i < 2; i++ {
		c := testController(&fakeBackend{memMB: 10}, DefaultConfig())
		res, err := c.ExecuteJobs(context.Background(), jobs, nil, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if res.Status != StatusSucceeded {
			t.Fatalf("run %d: Status=%q message=%q", i, res.Status, res.Message)
		}
		counts = append(counts, res.Outcomes[0].Data.Counts)
	}
	if !reflect.DeepEqual(counts[0], counts[1]) {
		t.Fatalf("runs differ: %v vs %v", counts[0], counts[1])
	}
}

// 一个作业失败不影响兄弟作业, 整体状态为部分成功, 消息带作业下标前缀.
func TestExecuteJobsPartialFailure(t *testing.T) {
	f := &fakeBackend{memMB: 10, failJobs: map[string]error{"a": fmt.Errorf("boom")}}
	c := testController(f, DefaultConfig())

	jobs := batch.Jobs{testJob("a", 10, 1), testJob("b", 10, 2)}
	res, err := c.ExecuteJobs(context.Background(), jobs, nil, explicitConfig(1, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPartial {
		t.Fatalf("Status=%q, want %q", res.Status, StatusPartial)
	}
	if res.Message != "[job 0] boom" {
		t.Fatalf("Message=%q", res.Message)
	}
	if res.Outcomes[0].Status != StatusFailed || res.Outcomes[1].Status != StatusSucceeded {
		t.Fatalf("outcomes = %q/%q", res.Outcomes[0].Status, res.Outcomes[1].Status)
	}
}

// 并行 worker 全部失败: 按下标顺序的第一个错误成为作业消息, 其余记录在
// 元数据中.
func TestExecuteJobsTrialWorkerErrors(t *testing.T) {
	f := &fakeBackend{memMB: 10, failJobs: map[string]error{"a": fmt.Errorf("boom")}}
	c := testController(f, DefaultConfig())

	res, err := c.ExecuteJobs(context.Background(), batch.Jobs{testJob("a", 100, 1)}, nil, explicitConfig(1, 4, 1))
	if err != nil {
		t.Fatal(err)
	}
	out := res.Outcomes[0]
	if out.Status != StatusFailed {
		t.Fatalf("Status=%q", out.Status)
	}
	if !strings.HasPrefix(out.Message, "trial worker 0 failed") {
		t.Fatalf("Message=%q, want first worker error in index order", out.Message)
	}
	recorded, ok := out.Metadata["trial_worker_errors"].([]string)
	if !ok || len(recorded) != 4 {
		t.Fatalf("trial_worker_errors = %v", out.Metadata["trial_worker_errors"])
	}
}

// 超预算的作业以内存不足失败, 兄弟作业不受影响.
func TestExecuteJobsMemoryFailureIsolated(t *testing.T) {
	f := &fakeBackend{
		memMB:    10,
		memByJob: map[string]uint64{"big": 5000},
	}
	cfg := DefaultConfig()
	cfg.MaxMemoryMB = 1000
	c := testController(f, cfg)

	jobs := batch.Jobs{testJob("big", 10, 1), testJob("small", 10, 2)}
	res, err := c.ExecuteJobs(context.Background(), jobs, nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPartial {
		t.Fatalf("Status=%q message=%q", res.Status, res.Message)
	}
	if !strings.Contains(res.Outcomes[0].Message, "max_memory_mb") {
		t.Fatalf("Message=%q, want out-of-memory", res.Outcomes[0].Message)
	}
	if res.Outcomes[1].Status != StatusSucceeded {
		t.Fatalf("sibling status=%q message=%q", res.Outcomes[1].Status, res.Outcomes[1].Message)
	}
}

// 后端不支持的指令在执行前被拒绝.
func TestExecuteJobsInvalidInstructions(t *testing.T) {
	c := testController(&fakeBackend{memMB: 10}, DefaultConfig())

	job := testJob("a", 10, 1)
	job.Ops = append(job.Ops, batch.Instruction{Name: "teleport", Qubits: []int{0}})
	res, err := c.ExecuteJobs(context.Background(), batch.Jobs{job}, nil, explicitConfig(1, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("Status=%q", res.Status)
	}
	if !strings.Contains(res.Message, "invalid instructions [teleport]") {
		t.Fatalf("Message=%q", res.Message)
	}
}

// 非法分布式几何是唯一以 error 返回的失败(部署错误, 快速失败).
func TestExecuteJobsInvalidGeometry(t *testing.T) {
	c := testController(&fakeBackend{memMB: 10}, DefaultConfig())

	cfg := DefaultConfig()
	cfg.MaxMemoryMB = 1024
	cfg.NumProcesses = 2
	cfg.Rank = 5
	if _, err := c.ExecuteJobs(context.Background(), batch.Jobs{testJob("a", 10, 1)}, nil, cfg); err == nil {
		t.Fatal("expected geometry error")
	}
}

// 描述符解析失败返回整体失败的结果而不是错误.
func TestExecuteParseFailure(t *testing.T) {
	c := testController(&fakeBackend{memMB: 10}, DefaultConfig())

	res, err := c.Execute(context.Background(), []byte(`{not json`))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusFailed {
		t.Fatalf("Status=%q", res.Status)
	}
	if !strings.Contains(res.Message, "failed to load batch descriptor") {
		t.Fatalf("Message=%q", res.Message)
	}
}

// 端到端: 描述符中的 id/header 透传, config 中的调试项强制并行度.
func TestExecuteDescriptor(t *testing.T) {
	f := &fakeBackend{memMB: 10}
	cfg := DefaultConfig()
	cfg.MaxMemoryMB = 1024
	c := testController(f, cfg)

	raw := []byte(`{
		"id": "batch-7",
		"header": {"name": "demo"},
		"config": {"_parallel_shots": 2},
		"jobs": [{
			"id": "a",
			"qubits": 1,
			"shots": 10,
			"seed": 7,
			"instructions": [
				{"name": "x", "qubits": [0]},
				{"name": "measure", "qubits": [0]}
			]
		}]
	}`)
	res, err := c.Execute(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSucceeded {
		t.Fatalf("Status=%q message=%q", res.Status, res.Message)
	}
	if res.ID != "batch-7" {
		t.Fatalf("ID=%q, want descriptor id", res.ID)
	}
	out := res.Outcomes[0]
	want := map[string]uint64{"seed_7": 5, "seed_8": 5}
	if !reflect.DeepEqual(out.Data.Counts, want) {
		t.Fatalf("counts = %v, want %v", out.Data.Counts, want)
	}
	if out.Metadata["parallel_shots"] != 2 {
		t.Fatalf("parallel_shots = %v", out.Metadata["parallel_shots"])
	}
	if res.Metadata["num_distributed_processes"] != 1 {
		t.Fatalf("metadata = %v", res.Metadata)
	}
}

// 零试验份额是合法的空操作, 不报错.
func TestExecuteJobsZeroShots(t *testing.T) {
	c := testController(&fakeBackend{memMB: 10}, DefaultConfig())

	res, err := c.ExecuteJobs(context.Background(), batch.Jobs{testJob("a", 0, 1)}, nil, explicitConfig(1, 1, 1))
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusSucceeded {
		t.Fatalf("Status=%q message=%q", res.Status, res.Message)
	}
	if res.Outcomes[0].Shots != 0 {
		t.Fatalf("shots = %d", res.Outcomes[0].Shots)
	}
}
