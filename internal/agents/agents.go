// Package agents holds the built-in executors the scheduler dispatches
// to. They simulate staged long-running work and are the reference
// implementations a real backend (search index, tool runner) would
// replace via scheduler.RegisterExecutor.
package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/sidework/internal/domain"
	"github.com/ashureev/sidework/internal/progress"
)

// ResearchResult is what the research executor returns on success.
type ResearchResult struct {
	Summary  string   `json:"summary"`
	Findings []string `json:"findings"`
	Sources  int      `json:"sources"`
}

// ToolResult is what the tool executor returns on success.
type ToolResult struct {
	Output   string `json:"output"`
	ExitNote string `json:"exit_note,omitempty"`
}

// Options tunes executor pacing. Tests shrink StepDelay to keep runs fast.
type Options struct {
	StepDelay time.Duration
}

// DefaultOptions paces the simulated stages for interactive demos.
func DefaultOptions() Options {
	return Options{StepDelay: 2 * time.Second}
}

type researchStage struct {
	stage      progress.Stage
	percentage int
	message    string
}

// Research builds the deep-work executor. It walks the full stage
// ladder and honors cancellation between steps.
func Research(opts Options) func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
	stages := []researchStage{
		{progress.StageStarting, 5, "Scoping the request"},
		{progress.StageAnalyzing, 20, "Breaking the question into sub-topics"},
		{progress.StageResearching, 45, "Gathering source material"},
		{progress.StageBuilding, 70, "Drafting findings"},
		{progress.StageRefining, 85, "Cross-checking and trimming"},
		{progress.StageFinalizing, 95, "Assembling the summary"},
	}

	return func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
		for _, s := range stages {
			if err := pause(ctx, opts.StepDelay); err != nil {
				return nil, err
			}
			tracker.Update(s.stage, s.percentage, s.message)
		}

		topic := headline(work.Request)
		result := &ResearchResult{
			Summary: fmt.Sprintf("Research on %q is done: three angles examined, key trade-offs noted.", topic),
			Findings: []string{
				fmt.Sprintf("Primary considerations for %s identified and ranked.", topic),
				"Competing approaches compared on cost and maturity.",
				"Open risks listed with suggested mitigations.",
			},
			Sources: len(stages),
		}
		tracker.Complete("Research complete")
		return result, nil
	}
}

// Tool builds the executor for shorter tool-style jobs. Fewer stages,
// same cancellation contract.
func Tool(opts Options) func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
	return func(ctx context.Context, work domain.QueuedWork, tracker *progress.Tracker) (any, error) {
		tracker.Update(progress.StageStarting, 10, "Preparing the task")
		if err := pause(ctx, opts.StepDelay); err != nil {
			return nil, err
		}
		tracker.Update(progress.StageBuilding, 60, "Running the task")
		if err := pause(ctx, opts.StepDelay); err != nil {
			return nil, err
		}

		result := &ToolResult{
			Output: fmt.Sprintf("Task %q finished.", headline(work.Request)),
		}
		tracker.Complete("Task complete")
		return result, nil
	}
}

// pause sleeps for d unless the context is cancelled first.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// headline shortens a request to something readable in a result line.
func headline(request string) string {
	request = strings.TrimSpace(request)
	const maxLen = 60
	if len(request) <= maxLen {
		return request
	}
	return strings.TrimSpace(request[:maxLen]) + "…"
}
