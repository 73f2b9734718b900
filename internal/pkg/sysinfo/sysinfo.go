// Package sysinfo probes the resources available to the controller:
// physical host memory and, when present, accelerator memory. When several
// distributed processes cooperate, every process must plan against the same
// value, so the probe exposes a min-reduction hook executed after the local
// query. A failed platform query degrades to the 0 sentinel, meaning
// "unconstrained": the planner then relies on thread/trial bounds alone.
package sysinfo

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"
)

// Reducer 在协作进程之间对探测值做最小值归约, 保证所有进程使用同一预算.
// 单进程部署使用恒等实现.
type Reducer interface {
	ReduceMinMB(ctx context.Context, localMB uint64) (uint64, error)
}

// AcceleratorProbe 查询加速设备的空闲内存总量(MB).
type AcceleratorProbe interface {
	FreeMemoryMB(ctx context.Context) (uint64, error)
}

// Memory 为一次探测结果. 任一字段为 0 表示该类资源不可知(不受约束),
// 而不是 "能装下一切".
type Memory struct {
	HostMB        uint64 `json:"host_mb"`
	AcceleratorMB uint64 `json:"accelerator_mb"`
}

// Probe 为系统资源探测器. 并发探测经 singleflight 去重, 同一时刻只执行一次
// 平台查询.
type Probe struct {
	g       singleflight.Group
	logger  *slog.Logger
	reducer Reducer
	accel   AcceleratorProbe

	// readHostMB 可在测试中替换平台查询.
	readHostMB func() (uint64, error)
}

type Option func(*Probe)

// WithReducer 设置跨进程最小值归约实现.
func WithReducer(r Reducer) Option { return func(p *Probe) { p.reducer = r } }

// WithAccelerator 设置加速设备探测实现.
func WithAccelerator(a AcceleratorProbe) Option { return func(p *Probe) { p.accel = a } }

// WithHostReader 替换物理内存查询, 仅用于测试.
func WithHostReader(f func() (uint64, error)) Option {
	return func(p *Probe) { p.readHostMB = f }
}

func New(logger *slog.Logger, opts ...Option) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Probe{logger: logger, readHostMB: readPhysicalMemoryMB}
	for _, o := range opts {
		o(p)
	}
	return p
}

// SystemMemoryMB 返回本进程可见的物理内存与加速设备内存(MB).
// 平台查询失败不报错, 返回 0 哨兵并记录日志.
func (p *Probe) SystemMemoryMB(ctx context.Context) Memory {
	v, _, _ := p.g.Do("sysmem", func() (any, error) {
		return p.probe(ctx), nil
	})
	return v.(Memory)
}

func (p *Probe) probe(ctx context.Context) Memory {
	var m Memory

	host, err := p.readHostMB()
	if err != nil {
		p.logger.Warn("unable to query physical memory, treating as unconstrained", "err", err)
		host = 0
	}
	m.HostMB = host

	if p.accel != nil {
		accel, err := p.accel.FreeMemoryMB(ctx)
		if err != nil {
			p.logger.Warn("unable to query accelerator memory", "err", err)
		} else {
			m.AcceleratorMB = accel
		}
	}

	// 跨进程取最小值, 使规划决策在整个集群上可复现
	if p.reducer != nil {
		if min, err := p.reducer.ReduceMinMB(ctx, m.HostMB); err != nil {
			p.logger.Warn("memory min-reduction failed, using local value", "err", err)
		} else {
			m.HostMB = min
		}
		if p.accel != nil {
			if min, err := p.reducer.ReduceMinMB(ctx, m.AcceleratorMB); err == nil {
				m.AcceleratorMB = min
			}
		}
	}
	return m
}

// DefaultBudgetMB 返回缺省内存预算: 物理内存的一半, 为宿主进程和操作系统
// 留出余量. 哨兵值 0 原样传递.
func DefaultBudgetMB(hostMB uint64) uint64 { return hostMB / 2 }
