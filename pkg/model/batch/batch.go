package batch

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Instruction 描述一条仿真指令. Qubits 为该指令作用的资源编号, Params 为可选数值参数.
type Instruction struct {
	Name   string    `json:"name"`
	Qubits []int     `json:"qubits,omitempty"`
	Params []float64 `json:"params,omitempty"`
}

type Jobs []Job

// Job 为一个独立可调度的仿真作业(源域中的 "circuit"), 携带自己的试验次数与种子.
// 调度过程中除重写 pass 的原地修改外保持只读.
type Job struct {
	ID     string          `json:"id,omitempty"`
	Qubits int             `json:"qubits"`       // 作业所需资源数量
	Shots  int             `json:"shots"`        // 请求的试验(trial)次数
	Seed   int64           `json:"seed"`         // 确定性随机种子
	Ops    []Instruction   `json:"instructions"` // 有序指令序列
	Header json.RawMessage `json:"header,omitempty"`
}

// Clone returns a deep copy so that rewriting passes can mutate a job
// without touching the caller's descriptor.
func (j Job) Clone() Job {
	c := j
	c.Ops = make([]Instruction, len(j.Ops))
	copy(c.Ops, j.Ops)
	return c
}

// OpSet 返回作业使用的指令名称集合.
func (j *Job) OpSet() OpSet {
	s := make(OpSet, len(j.Ops))
	for _, op := range j.Ops {
		s[op.Name] = struct{}{}
	}
	return s
}

// Name 取作业标识, 为空时回退到 header 中的 name 字段.
func (j *Job) Name() string {
	if j.ID != "" {
		return j.ID
	}
	var hdr struct {
		Name string `json:"name"`
	}
	if len(j.Header) > 0 {
		_ = json.Unmarshal(j.Header, &hdr)
	}
	return hdr.Name
}

// ErrorModel 为作用于作业的概率错误注入模型. 调度器只关心两点:
// 是否为理想(无操作)模型, 以及其支持的指令集合; 其余内容对调度器不透明.
type ErrorModel struct {
	Ops []Instruction `json:"instructions,omitempty"`
}

// IsIdeal 判断是否为理想模型(不注入任何错误).
func (m *ErrorModel) IsIdeal() bool {
	return m == nil || len(m.Ops) == 0
}

// OpSet 返回模型使用的指令名称集合. 理想模型返回空集合.
func (m *ErrorModel) OpSet() OpSet {
	if m == nil {
		return OpSet{}
	}
	s := make(OpSet, len(m.Ops))
	for _, op := range m.Ops {
		s[op.Name] = struct{}{}
	}
	return s
}

// Clone returns a deep copy of the model, nil stays nil.
func (m *ErrorModel) Clone() *ErrorModel {
	if m == nil {
		return nil
	}
	c := &ErrorModel{Ops: make([]Instruction, len(m.Ops))}
	copy(c.Ops, m.Ops)
	return c
}

// Descriptor 为自包含批描述符: 作业列表 + 可选错误模型 + 配置.
type Descriptor struct {
	ID         string          `json:"id,omitempty"`
	Jobs       Jobs            `json:"jobs"`
	ErrorModel *ErrorModel     `json:"error_model,omitempty"`
	Config     json.RawMessage `json:"config,omitempty"`
	Header     json.RawMessage `json:"header,omitempty"`
}

// ParseDescriptor 解析批描述符并做基本校验.
func ParseDescriptor(raw []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, err
	}
	for i := range d.Jobs {
		if d.Jobs[i].Qubits < 0 {
			return nil, fmt.Errorf("job %d: negative qubit count", i)
		}
		if d.Jobs[i].Shots < 0 {
			return nil, fmt.Errorf("job %d: negative shot count", i)
		}
	}
	return &d, nil
}

// OpSet 为指令名称集合.
type OpSet map[string]struct{}

func NewOpSet(names ...string) OpSet {
	s := make(OpSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Contains 判断 other 是否为 s 的子集.
func (s OpSet) Contains(other OpSet) bool {
	for n := range other {
		if _, ok := s[n]; !ok {
			return false
		}
	}
	return true
}

// Missing 返回 s 中不被 other 支持的名称, 排序后输出便于稳定报错.
func (s OpSet) Missing(other OpSet) []string {
	var diff []string
	for n := range s {
		if _, ok := other[n]; !ok {
			diff = append(diff, n)
		}
	}
	sort.Strings(diff)
	return diff
}
