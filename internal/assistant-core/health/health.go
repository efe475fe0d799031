package health

import (
	"github.com/cloudwego/hertz/pkg/common/hlog"

	"assistant-dispatch-service/internal/assistant-core/registry"
)

type State string

const (
	Ready  State = "Ready"
	Broken State = "Broken"
)

// Status is the resolvability of one task type's handler.
type Status struct {
	TaskType string `json:"task_type"`
	Handler  string `json:"handler"`
	State    State  `json:"state"`
	Error    string `json:"error,omitempty"`
}

// Report is the result of a full check.
type Report struct {
	Healthy  bool     `json:"healthy"`
	Fallback bool     `json:"fallback"`
	Statuses []Status `json:"statuses"`
}

// Checker resolves, never executes, every registered handler.
type Checker struct {
	reg *registry.Registry
}

func NewChecker(reg *registry.Registry) *Checker {
	return &Checker{reg: reg}
}

func (c *Checker) CheckAll() Report {
	bindings := c.reg.Bindings()
	report := Report{Healthy: true, Fallback: c.reg.UsingFallback(), Statuses: make([]Status, 0, len(bindings))}
	for _, b := range bindings {
		st := Status{TaskType: b.Entry.TaskType, Handler: b.Entry.Handler, State: Ready}
		if _, err := b.Load(); err != nil {
			st.State = Broken
			st.Error = err.Error()
			report.Healthy = false
			hlog.Warnf("Health: %s is broken: %v", b.Entry.TaskType, err)
		}
		report.Statuses = append(report.Statuses, st)
	}
	return report
}
