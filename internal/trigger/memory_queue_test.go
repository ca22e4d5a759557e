package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPromptRequestEncodeDecode(t *testing.T) {
	request := NewPromptRequest(SourceOperator, "  检查收益  ")
	if request.ID == "" {
		t.Fatalf("expected generated id")
	}
	if request.Message != "检查收益" {
		t.Fatalf("message must be trimmed, got %q", request.Message)
	}

	body, err := request.Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	decoded, err := DecodePromptRequest(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded != request {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, request)
	}
}

func TestDecodePromptRequestRejectsGarbage(t *testing.T) {
	if _, err := DecodePromptRequest([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestMemoryQueuePublishConsume(t *testing.T) {
	queue := NewMemoryQueue(4)
	defer queue.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan PromptRequest, 1)
	go func() {
		_ = queue.Consume(ctx, 1, func(_ context.Context, request PromptRequest) error {
			received <- request
			return nil
		})
	}()

	request := NewPromptRequest(SourceScheduler, "例行检查")
	if err := queue.Publish(ctx, request); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-received:
		if got.ID != request.ID {
			t.Fatalf("unexpected request: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for consumption")
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	_ = queue.Close()
	if err := queue.Publish(context.Background(), NewPromptRequest(SourceOperator, "x")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestMemoryQueueCloseWhilePublishing(t *testing.T) {
	queue := NewMemoryQueue(1)

	// 塞满队列，让后续投递方全部阻塞在发送上。
	if err := queue.Publish(context.Background(), NewPromptRequest(SourceScheduler, "x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- queue.Publish(context.Background(), NewPromptRequest(SourceScheduler, "x"))
		}()
	}

	_ = queue.Close()
	wg.Wait()
	close(errs)

	// 被阻塞的投递方必须以错误返回，而不是 panic 或永久挂起。
	for err := range errs {
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("expected ErrQueueClosed, got %v", err)
		}
	}
}

func TestMemoryQueueConsumeReturnsOnClose(t *testing.T) {
	queue := NewMemoryQueue(4)
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(context.Background(), 2, func(context.Context, PromptRequest) error { return nil })
	}()

	_ = queue.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("consume after close must end cleanly: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("consume did not return after close")
	}
}
