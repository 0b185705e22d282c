package dispatch

import "sarkhati/internal/broker"

// BatchResult 汇总一个批次内全部委托的结果，下标与委托清单对齐。
type BatchResult struct {
	Batch    int
	Outcomes []broker.Outcome
}

// Succeeded 统计成功的委托数。
func (r BatchResult) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Kind == broker.OutcomeSuccess {
			n++
		}
	}
	return n
}

// Failed 统计失败的委托数（HTTP 失败与传输失败）。
func (r BatchResult) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}
