// Package errors defines the failure taxonomy of the batch execution
// controller. Job-level failures never abort sibling jobs; planning-level
// failures fail the whole run; all of them end up as structured messages in
// the batch result instead of being raised to the host.
package errors

import (
	"errors"
	"fmt"
)

// ParseError 表示批描述符格式非法. 以整体失败的 BatchResult 形式对外呈现,
// 不向调用方抛出.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to load batch descriptor: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// OutOfMemoryError 表示某作业(或其试验份额)即便独占预算也无法放下.
// 在作业边界内抛出时仅该作业失败; 在全局规划阶段抛出时整个批次失败.
type OutOfMemoryError struct {
	Job        string
	RequiredMB uint64
	BudgetMB   uint64
}

func (e *OutOfMemoryError) Error() string {
	if e.Job != "" {
		return fmt.Sprintf("job %q requires more memory than max_memory_mb (%d MB > %d MB)", e.Job, e.RequiredMB, e.BudgetMB)
	}
	return fmt.Sprintf("a job requires more memory than max_memory_mb (%d MB > %d MB)", e.RequiredMB, e.BudgetMB)
}

// IsOutOfMemory reports whether err is (or wraps) an OutOfMemoryError.
func IsOutOfMemory(err error) bool {
	var oom *OutOfMemoryError
	return errors.As(err, &oom)
}

// TrialWorkerError 表示某个试验 worker 内部失败. 每个 worker 的错误先被捕获,
// 汇合之后按索引顺序重新抛出第一个.
type TrialWorkerError struct {
	Worker int
	Err    error
}

func (e *TrialWorkerError) Error() string {
	return fmt.Sprintf("trial worker %d failed: %v", e.Worker, e.Err)
}

func (e *TrialWorkerError) Unwrap() error { return e.Err }

// RewriteError 表示作业重写 pass 失败, 按普通作业级失败传播.
type RewriteError struct {
	Pass string
	Err  error
}

func (e *RewriteError) Error() string {
	return fmt.Sprintf("rewriting pass %q failed: %v", e.Pass, e.Err)
}

func (e *RewriteError) Unwrap() error { return e.Err }
