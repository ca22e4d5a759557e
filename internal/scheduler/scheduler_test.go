package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"StakePilot-Chain/internal/trigger"
)

func TestDispatchRunsWhenIdle(t *testing.T) {
	ran := 0
	sched := New(func(context.Context, trigger.PromptRequest) error {
		ran++
		return nil
	}, nil, time.Minute, "检查")

	if err := sched.Dispatch(context.Background(), trigger.NewPromptRequest(trigger.SourceScheduler, "检查")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran != 1 {
		t.Fatalf("expected runner to execute once, got %d", ran)
	}
	if sched.Busy() {
		t.Fatalf("slot must be released after the cycle")
	}
}

func TestDispatchDropsWhenBusy(t *testing.T) {
	ran := 0
	sched := New(func(context.Context, trigger.PromptRequest) error {
		ran++
		return nil
	}, nil, time.Minute, "检查")

	if !sched.TryAcquire() {
		t.Fatalf("slot should be free")
	}
	if err := sched.Dispatch(context.Background(), trigger.NewPromptRequest(trigger.SourceOperator, "手动触发")); err != nil {
		t.Fatalf("dropped trigger is not an error: %v", err)
	}
	if ran != 0 {
		t.Fatalf("trigger must be dropped while a cycle is running")
	}
	sched.Release()

	if err := sched.Dispatch(context.Background(), trigger.NewPromptRequest(trigger.SourceOperator, "再次触发")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ran != 1 {
		t.Fatalf("trigger after release must run, got %d", ran)
	}
}

func TestDispatchSingleSlotUnderConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	sched := New(func(context.Context, trigger.PromptRequest) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}, nil, time.Minute, "检查")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sched.Dispatch(context.Background(), trigger.NewPromptRequest(trigger.SourceScheduler, "并发触发"))
		}()
	}
	wg.Wait()

	if maxInFlight > 1 {
		t.Fatalf("at most one cycle may run at a time, observed %d", maxInFlight)
	}
}
