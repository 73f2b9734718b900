// Package controller is the execution controller for a batch of independent
// simulation jobs. Given a thread pool, a memory budget and a set of
// cooperating processes it decomposes the batch into parallel work at three
// nested levels — job level, trial level and per-trial state update — such
// that no unit of work exceeds the memory budget, resources are not
// over-subscribed, and distributed processes split the batch disjointly and
// exhaustively. Job-level and trial-level parallelism are mutually
// exclusive.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"qbatch/internal/pkg/sysinfo"
	"qbatch/pkg/backend"
	qerrors "qbatch/pkg/errors"
	"qbatch/pkg/model/batch"
	"qbatch/pkg/rewrite"
)

// Controller 驱动一个批次从描述符到 BatchResult 的完整执行.
// Controller 本身无跨运行可变状态, 可被宿主并发调用; 每次运行构造并独占
// 自己的 ExecutionPlan.
type Controller struct {
	backend  backend.Backend
	passes   []rewrite.Pass
	probe    *sysinfo.Probe
	logger   *slog.Logger
	defaults Config
}

type Option func(*Controller)

// WithPasses 替换默认重写 pass 链.
func WithPasses(passes ...rewrite.Pass) Option {
	return func(c *Controller) { c.passes = passes }
}

// WithProbe 注入资源探测器(含跨进程归约/加速设备探测).
func WithProbe(p *sysinfo.Probe) Option { return func(c *Controller) { c.probe = p } }

// WithLogger 注入日志器.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithDefaults 设置服务级默认配置(含分布式几何), 描述符 config 在其上叠加.
func WithDefaults(cfg Config) Option { return func(c *Controller) { c.defaults = cfg } }

func New(b backend.Backend, opts ...Option) *Controller {
	c := &Controller{
		backend:  b,
		passes:   rewrite.Default(),
		logger:   slog.Default(),
		defaults: DefaultConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.probe == nil {
		c.probe = sysinfo.New(c.logger)
	}
	return c
}

// Execute 解析自包含批描述符并执行. 解析失败返回整体失败的 BatchResult
// 而不是错误; 返回 error 仅用于非法分布式几何(部署错误, 快速失败).
func (c *Controller) Execute(ctx context.Context, raw []byte) (*BatchResult, error) {
	start := time.Now()

	desc, err := batch.ParseDescriptor(raw)
	if err != nil {
		res := newBatchResult(0)
		res.fail((&qerrors.ParseError{Err: err}).Error())
		return res, nil
	}
	cfg, err := ParseConfig(c.defaults, desc.Config)
	if err != nil {
		res := newBatchResult(0)
		res.fail((&qerrors.ParseError{Err: err}).Error())
		return res, nil
	}

	res, err := c.ExecuteJobs(ctx, desc.Jobs, desc.ErrorModel, cfg)
	if err != nil {
		return nil, err
	}
	if desc.ID != "" {
		res.ID = desc.ID
	}
	if len(desc.Header) > 0 {
		res.Header = desc.Header
	}
	// 计时覆盖描述符解析在内的完整耗时
	res.TimeTaken = time.Since(start).Seconds()
	return res, nil
}

// ExecuteJobs 为主入口: 探测资源 → 分布式划分 → 作业级规划 → 逐作业执行 →
// 结果归约. 除非法几何外的一切失败都转为结果中的结构化消息.
func (c *Controller) ExecuteJobs(ctx context.Context, jobs batch.Jobs, noise *batch.ErrorModel, cfg Config) (*BatchResult, error) {
	start := time.Now()

	plan, estimates, err := c.newPlan(ctx, jobs, noise, cfg)
	if err != nil {
		// 几何非法: 部署/编程错误, 在结果对象存在之前快速失败
		return nil, err
	}

	res := newBatchResult(plan.AssignedJobs())
	res.ID = uuid.NewString()

	if err := c.runBatch(ctx, jobs, noise, plan, estimates, res); err != nil {
		// 全局规划失败(如作业级 OOM): 尚无作业开始, 整个批次短路
		res.fail(err.Error())
	}
	res.TimeTaken = time.Since(start).Seconds()
	return res, nil
}

// newPlan 构造本次运行的执行计划: 解析线程/内存预算并完成分布式划分.
func (c *Controller) newPlan(ctx context.Context, jobs batch.Jobs, noise *batch.ErrorModel, cfg Config) (*ExecutionPlan, []uint64, error) {
	mem := c.probe.SystemMemoryMB(ctx)
	budget := cfg.MaxMemoryMB
	if budget == 0 {
		budget = sysinfo.DefaultBudgetMB(mem.HostMB)
	}

	plan := &ExecutionPlan{
		MaxThreads:          resolveMaxThreads(cfg.MaxParallelThreads),
		ParallelJobs:        1,
		ParallelShots:       1,
		ParallelStateUpdate: 1,
		Explicit:            cfg.Explicit,
		MemoryMB:            budget,
		GPUMemoryMB:         mem.AcceleratorMB,
		Unconstrained:       budget == 0,
		ValidationThres:     cfg.ValidationThreshold,
		AcceptDistributed:   cfg.AcceptDistributedResults,
		CapJobs:             cfg.MaxParallelJobs,
		CapShots:            cfg.MaxParallelShots,
		NumProcesses:        cfg.NumProcesses,
		Rank:                cfg.Rank,
	}
	if plan.Explicit {
		plan.ParallelJobs = cfg.ParallelJobs
		plan.ParallelShots = cfg.ParallelShots
		plan.ParallelStateUpdate = cfg.ParallelStateUpdate
	}

	estimates := make([]uint64, len(jobs))
	for i := range jobs {
		estimates[i] = c.backend.RequiredMemoryMB(&jobs[i], noise)
	}
	if err := plan.partitionProcesses(estimates, len(jobs)); err != nil {
		return nil, nil, err
	}
	return plan, estimates, nil
}

// runBatch 执行分配给本进程组的作业. 返回错误仅表示批级(规划)失败.
func (c *Controller) runBatch(ctx context.Context, jobs batch.Jobs, noise *batch.ErrorModel, plan *ExecutionPlan, estimates []uint64, res *BatchResult) error {
	if !plan.Explicit {
		if err := plan.planJobParallelism(estimates); err != nil {
			return err
		}
	}
	// 作业级并行未用满线程时, 为第三层保留嵌套空间
	plan.Nested = plan.ParallelJobs > 1 && plan.ParallelJobs < plan.MaxThreads

	res.Metadata["thread_parallelism_enabled"] = true
	res.Metadata["parallel_experiments"] = plan.ParallelJobs
	res.Metadata["nested_parallelism"] = plan.Nested
	res.Metadata["max_memory_mb"] = plan.MemoryMB
	res.Metadata["max_gpu_memory_mb"] = plan.GPUMemoryMB
	res.Metadata["num_distributed_processes"] = plan.NumProcesses
	res.Metadata["distributed_rank"] = plan.Rank
	res.Metadata["distributed_experiments"] = plan.NumGroups
	res.Metadata["distributed_experiments_group_id"] = plan.GroupID
	res.Metadata["distributed_experiments_rank_in_group"] = plan.RankInGroup
	res.Metadata["accept_distributed_results"] = plan.AcceptDistributed

	c.logger.Debug("batch plan resolved",
		"parallel_jobs", plan.ParallelJobs,
		"max_threads", plan.MaxThreads,
		"memory_mb", plan.MemoryMB,
		"group_size", plan.GroupSize,
		"job_begin", plan.JobBegin,
		"job_end", plan.JobEnd,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, plan.ParallelJobs))
	for i := 0; i < plan.AssignedJobs(); i++ {
		slot := i
		// 每个作业持有自己的 job/noise 副本, 重写 pass 原地修改互不影响
		job := jobs[plan.JobBegin+i].Clone()
		jobNoise := noise.Clone()
		g.Go(func() error {
			res.Outcomes[slot] = c.executeJob(gctx, &job, jobNoise, plan)
			return nil
		})
	}
	_ = g.Wait()

	res.reduce()
	return nil
}

// executeJob 端到端驱动一个作业: 校验指令集 → 重写 pass → 试验级规划 →
// 试验 worker → 合并. 作用域内的任何失败(含 panic)都转为失败的 JobOutcome,
// 不影响兄弟作业.
func (c *Controller) executeJob(ctx context.Context, job *batch.Job, noise *batch.ErrorModel, plan *ExecutionPlan) (out JobOutcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusFailed
			out.Message = fmt.Sprintf("job execution panicked: %v", r)
		}
		out.TimeTaken = time.Since(start).Seconds()
	}()

	fail := func(err error) JobOutcome {
		out.Status = StatusFailed
		out.Message = err.Error()
		return out
	}

	if err := c.validateJob(job, noise); err != nil {
		return fail(err)
	}

	for _, pass := range c.passes {
		if err := pass.Optimize(job, noise); err != nil {
			return fail(&qerrors.RewriteError{Pass: pass.Name(), Err: err})
		}
	}

	// 重写可能缩小了作业, 估算以重写后的作业为准
	estimate := c.backend.RequiredMemoryMB(job, noise)
	sp, err := plan.planJobShots(estimate, job.Shots)
	if err != nil {
		return fail(err)
	}

	var payload backend.Payload
	if sp.parallel <= 1 {
		payload, err = c.backend.Run(ctx, job, noise, backend.RunSpec{
			Shots:               sp.share,
			Seed:                job.Seed,
			StateThreads:        sp.stateUpdate,
			Nested:              sp.nested,
			ValidationThreshold: plan.ValidationThres,
		})
		if err != nil {
			return fail(err)
		}
	} else {
		payload, err = c.runTrialWorkers(ctx, job, noise, plan, sp, &out)
		if err != nil {
			return fail(err)
		}
	}

	out.Status = StatusSucceeded
	out.Shots = sp.share
	out.Seed = job.Seed
	out.Header = job.Header
	out.Data = payload
	if out.Metadata == nil {
		out.Metadata = make(map[string]any)
	}
	out.Metadata["parallel_shots"] = sp.parallel
	out.Metadata["parallel_state_update"] = sp.stateUpdate
	if sharers := plan.ShotGroups * plan.GroupSize; sharers > 1 {
		out.Metadata["distributed_shots"] = sharers
	}
	return out
}

// runTrialWorkers 将份额切成 N 份并发执行, worker 序号决定种子与结果槽位,
// 结果与完成顺序无关. 每个 worker 的错误写入自己的槽位, 汇合后按下标顺序
// 重新抛出第一个; 其余失败记录在 outcome 元数据中, 避免消息无声丢失.
func (c *Controller) runTrialWorkers(ctx context.Context, job *batch.Job, noise *batch.ErrorModel, plan *ExecutionPlan, sp shotPlan, out *JobOutcome) (backend.Payload, error) {
	n := sp.parallel
	subshots := splitShots(sp.share, n)
	payloads := make([]backend.Payload, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[worker] = &qerrors.TrialWorkerError{Worker: worker, Err: fmt.Errorf("panic: %v", r)}
				}
			}()
			p, err := c.backend.Run(ctx, job, noise, backend.RunSpec{
				Shots:               subshots[worker],
				Seed:                job.Seed + int64(worker),
				StateThreads:        sp.stateUpdate,
				Nested:              sp.nested,
				ValidationThreshold: plan.ValidationThres,
			})
			if err != nil {
				errs[worker] = &qerrors.TrialWorkerError{Worker: worker, Err: err}
				return
			}
			payloads[worker] = p
		}(i)
	}
	wg.Wait()

	var first error
	var failedWorkers []string
	for i, err := range errs {
		if err == nil {
			continue
		}
		if first == nil {
			first = err
		}
		failedWorkers = append(failedWorkers, fmt.Sprintf("worker %d: %v", i, err))
	}
	if first != nil {
		if out.Metadata == nil {
			out.Metadata = make(map[string]any)
		}
		// 只有第一个失败会成为作业消息, 其余保留在诊断元数据里
		out.Metadata["trial_worker_errors"] = failedWorkers
		return backend.Payload{}, first
	}

	var merged backend.Payload
	for i := range payloads {
		merged.Merge(payloads[i])
	}
	return merged, nil
}

// validateJob 校验作业与错误模型的指令是否都被后端支持.
func (c *Controller) validateJob(job *batch.Job, noise *batch.ErrorModel) error {
	opset := c.backend.OpSet()
	if missing := job.OpSet().Missing(opset); len(missing) > 0 {
		return fmt.Errorf("job contains invalid instructions [%s] for %q backend",
			strings.Join(missing, ","), c.backend.Name())
	}
	if !noise.IsIdeal() {
		if missing := noise.OpSet().Missing(opset); len(missing) > 0 {
			return fmt.Errorf("error model contains invalid instructions [%s] for %q backend",
				strings.Join(missing, ","), c.backend.Name())
		}
	}
	return nil
}
