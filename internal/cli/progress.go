package cli

import (
	"fmt"
	"sync"
	"time"
)

var spinnerChars = []rune{'⠋', '⠙', '⠹', '⠸', '⠼', '⠴', '⠦', '⠧', '⠇', '⠏'}

type ProgressSpinner struct {
	mu           sync.Mutex
	spinnerIndex int
	startTime    time.Time
	message      string
	jobsDone     int
	jobsTotal    int
	trialDone    int
	trialTotal   int
	failures     int
	running      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
}

func NewProgressSpinner() *ProgressSpinner {
	return &ProgressSpinner{
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

func (p *ProgressSpinner) Start(jobCount int) {
	p.mu.Lock()
	p.startTime = time.Now()
	p.jobsTotal = jobCount
	p.jobsDone = 0
	p.message = ""
	p.running = true
	p.mu.Unlock()

	go p.run()
}

func (p *ProgressSpinner) run() {
	defer close(p.doneCh)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			p.clearLine()
			return
		case <-ticker.C:
			p.render()
		}
	}
}

func (p *ProgressSpinner) render() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}

	spinner := spinnerChars[p.spinnerIndex]
	p.spinnerIndex = (p.spinnerIndex + 1) % len(spinnerChars)

	elapsed := time.Since(p.startTime)
	mins := int(elapsed.Minutes())
	secs := int(elapsed.Seconds()) % 60

	line := fmt.Sprintf("%s  %c %s  [%d/%d trials]  [%d/%d runs]  failures: %d  elapsed: %dm%02ds",
		Indent,
		spinner,
		p.message,
		p.trialDone, p.trialTotal,
		p.jobsDone, p.jobsTotal,
		p.failures,
		mins, secs,
	)
	p.mu.Unlock()

	printf("\r\033[K%s", line)
}

func (p *ProgressSpinner) clearLine() {
	printf("\r\033[K")
}

// UpdateTrial records the trial that just finished. index is zero-based.
func (p *ProgressSpinner) UpdateTrial(backend, operation string, index, total int, warmup, failed bool) {
	p.mu.Lock()
	phase := "Measuring"
	if warmup {
		phase = "Warming up"
	}
	p.message = fmt.Sprintf("%s %s/%s...", phase, backend, operation)
	p.trialDone = index + 1
	p.trialTotal = total
	if failed {
		p.failures++
	}
	p.mu.Unlock()
}

func (p *ProgressSpinner) JobDone(done int) {
	p.mu.Lock()
	p.jobsDone = done
	p.trialDone = 0
	p.failures = 0
	p.mu.Unlock()
}

func (p *ProgressSpinner) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh
}
