package publisher

import "time"

// defaultIntervals 是状态变化后的指数退避重传间隔
// 最后一项在稳态下作为心跳周期无限重复
var defaultIntervals = []time.Duration{
	1 * time.Millisecond,
	2 * time.Millisecond,
	4 * time.Millisecond,
	8 * time.Millisecond,
	16 * time.Millisecond,
	32 * time.Millisecond,
	64 * time.Millisecond,
	128 * time.Millisecond,
	256 * time.Millisecond,
	500 * time.Millisecond,
}

// RetransmissionSchedule 维护一次突发内的重传间隔游标
// 非并发安全，由Publication的互斥锁串行化访问
type RetransmissionSchedule struct {
	intervals []time.Duration
	steady    time.Duration
	cursor    int
}

// NewRetransmissionSchedule 创建标准重传计划
// steadyOverride大于0时替换稳态心跳周期，0使用最后一个间隔
func NewRetransmissionSchedule(steadyOverride time.Duration) *RetransmissionSchedule {
	s := &RetransmissionSchedule{
		intervals: defaultIntervals,
		steady:    defaultIntervals[len(defaultIntervals)-1],
	}
	if steadyOverride > 0 {
		s.steady = steadyOverride
	}
	return s
}

// Next 返回距下一次重传的间隔并推进游标
// 游标走完退避序列后停在稳态周期
func (s *RetransmissionSchedule) Next() time.Duration {
	if s.cursor >= len(s.intervals) {
		return s.steady
	}
	d := s.intervals[s.cursor]
	s.cursor++
	return d
}

// Reset 回到突发起点，在状态号递增后调用
func (s *RetransmissionSchedule) Reset() {
	s.cursor = 0
}

// SkipToSteady 跳过退避序列直接进入稳态心跳，周期发布模式使用
func (s *RetransmissionSchedule) SkipToSteady() {
	s.cursor = len(s.intervals)
}

// InSteadyState 报告退避序列是否已走完
func (s *RetransmissionSchedule) InSteadyState() bool {
	return s.cursor >= len(s.intervals)
}
