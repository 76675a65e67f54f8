package trace

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"x86emu/internal/emu"
	"x86emu/internal/humanize"
)

// Counter is a Sink that only tracks how many instructions have executed.
// Steps may be called from another goroutine while the emulator runs.
type Counter struct {
	steps uint64
}

func (c *Counter) Step(n uint64, cpu *emu.CPU, opcode uint8) {
	atomic.StoreUint64(&c.steps, n)
}

func (c *Counter) Done(n uint64, cpu *emu.CPU) {}

func (c *Counter) Steps() uint64 {
	return atomic.LoadUint64(&c.steps)
}

// Reporter periodically prints the instruction rate of a running emulator.
type Reporter struct {
	counter *Counter
	total   uint64

	mu     sync.Mutex
	status string
}

func NewReporter(c *Counter) *Reporter {
	return &Reporter{counter: c}
}

func (p *Reporter) SetStatus(status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

// SetTotal makes Report print a percentage, e.g. against a step limit.
func (p *Reporter) SetTotal(total uint64) {
	atomic.StoreUint64(&p.total, total)
}

func (p *Reporter) getStatus() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Reporter) Report(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	last := p.counter.Steps()
	for {
		select {
		case <-ticker.C:
			executed := p.counter.Steps()
			stepsPerS := executed - last
			last = executed
			rate := humanize.Rate(stepsPerS)
			status := rate
			if total := atomic.LoadUint64(&p.total); total > 0 {
				pct := float64(executed) / float64(total) * 100
				status = fmt.Sprintf("%02.2f%% of %d steps, running at %s",
					pct,
					total,
					rate)
			}
			fmt.Printf("\r[%s] %s                 ", p.getStatus(), status)
		case <-ctx.Done():
			return
		}
	}
}
