package controller

import (
	"encoding/json"
	"fmt"
	"runtime"
)

// Config 为一次执行识别的配置项. JSON 键与批描述符 config 字段一致.
// 三个 _parallel_* 调试项用于绕过规划器, 强制精确并行度(各自钳到 ≥1).
type Config struct {
	// MaxParallelThreads 为所有层级线程总数上限, 0 表示用满可用线程.
	MaxParallelThreads int
	// MaxParallelJobs 为作业级并行上限, 0 表示自动选择.
	MaxParallelJobs int
	// MaxParallelShots 为试验级并行上限, 0 表示自动选择.
	MaxParallelShots int
	// MaxMemoryMB 为内存预算, 0 表示自动探测(物理内存一半).
	MaxMemoryMB uint64
	// ValidationThreshold 透传给后端校验, 不参与调度计算.
	ValidationThreshold float64
	// AcceptDistributedResults 指示各进程的局部结果是否按原样接受.
	AcceptDistributedResults bool

	// Explicit 为真时绕过规划器, 使用下面三个强制值.
	Explicit            bool
	ParallelJobs        int
	ParallelShots       int
	ParallelStateUpdate int

	// 分布式几何, 由部署方(flag/环境)注入而非描述符.
	NumProcesses int
	Rank         int
}

// DefaultConfig 返回配置默认值: 作业级并行默认关闭(1), 试验级自动,
// 校验阈值 1e-8, 单进程几何.
func DefaultConfig() Config {
	return Config{
		MaxParallelThreads:       0,
		MaxParallelJobs:          1,
		MaxParallelShots:         0,
		MaxMemoryMB:              0,
		ValidationThreshold:      1e-8,
		AcceptDistributedResults: true,
		ParallelJobs:             1,
		ParallelShots:            1,
		ParallelStateUpdate:      1,
		NumProcesses:             1,
	}
}

// rawConfig 区分 "键缺省" 与 "显式 0": 缺省保持默认值, 显式 0 表示自动.
type rawConfig struct {
	MaxParallelThreads       *int     `json:"max_parallel_threads"`
	MaxParallelExperiments   *int     `json:"max_parallel_experiments"`
	MaxParallelShots         *int     `json:"max_parallel_shots"`
	MaxMemoryMB              *uint64  `json:"max_memory_mb"`
	ValidationThreshold      *float64 `json:"validation_threshold"`
	AcceptDistributedResults *bool    `json:"accept_distributed_results"`
	ParallelExperiments      *int     `json:"_parallel_experiments"`
	ParallelShots            *int     `json:"_parallel_shots"`
	ParallelStateUpdate      *int     `json:"_parallel_state_update"`
}

// ParseConfig 将描述符中的 config 块叠加到 base 之上.
func ParseConfig(base Config, raw json.RawMessage) (Config, error) {
	cfg := base
	if len(raw) == 0 {
		return cfg, nil
	}
	var rc rawConfig
	if err := json.Unmarshal(raw, &rc); err != nil {
		return cfg, fmt.Errorf("invalid config block: %w", err)
	}
	if rc.MaxParallelThreads != nil {
		cfg.MaxParallelThreads = *rc.MaxParallelThreads
	}
	if rc.MaxParallelExperiments != nil {
		cfg.MaxParallelJobs = *rc.MaxParallelExperiments
	}
	if rc.MaxParallelShots != nil {
		cfg.MaxParallelShots = *rc.MaxParallelShots
	}
	if rc.MaxMemoryMB != nil {
		cfg.MaxMemoryMB = *rc.MaxMemoryMB
	}
	if rc.ValidationThreshold != nil {
		cfg.ValidationThreshold = *rc.ValidationThreshold
	}
	if rc.AcceptDistributedResults != nil {
		cfg.AcceptDistributedResults = *rc.AcceptDistributedResults
	}
	if rc.ParallelExperiments != nil {
		cfg.ParallelJobs = *rc.ParallelExperiments
		cfg.Explicit = true
	}
	if rc.ParallelShots != nil {
		cfg.ParallelShots = *rc.ParallelShots
		cfg.Explicit = true
	}
	if rc.ParallelStateUpdate != nil {
		cfg.ParallelStateUpdate = *rc.ParallelStateUpdate
		cfg.Explicit = true
	}
	if cfg.Explicit {
		cfg.ParallelJobs = max(cfg.ParallelJobs, 1)
		cfg.ParallelShots = max(cfg.ParallelShots, 1)
		cfg.ParallelStateUpdate = max(cfg.ParallelStateUpdate, 1)
	}
	return cfg, nil
}

// resolveMaxThreads 将线程上限钳到可用 CPU 数; 0 表示用满.
func resolveMaxThreads(configured int) int {
	cpus := runtime.NumCPU()
	if configured > 0 {
		return min(configured, cpus)
	}
	return max(1, cpus)
}
