package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_PriorityOrder(t *testing.T) {
	q := NewInMemoryQueue(0)
	for _, task := range []*Task{
		NewTask("https://shop.example/low-1", 0),
		NewTask("https://shop.example/high", 5),
		NewTask("https://shop.example/low-2", 0),
		NewTask("https://shop.example/mid", 2),
	} {
		require.NoError(t, q.Push(task))
	}

	var urls []string
	for q.Size() > 0 {
		task, err := q.Pop(context.Background())
		require.NoError(t, err)
		urls = append(urls, task.URL)
	}

	assert.Equal(t, []string{
		"https://shop.example/high",
		"https://shop.example/mid",
		"https://shop.example/low-1",
		"https://shop.example/low-2",
	}, urls)
}

func TestInMemoryQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewInMemoryQueue(0)
	got := make(chan *Task, 1)

	go func() {
		task, err := q.Pop(context.Background())
		if err == nil {
			got <- task
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(NewTask("https://shop.example/p/1", 0)))

	select {
	case task := <-got:
		assert.Equal(t, "https://shop.example/p/1", task.URL)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up after push")
	}
}

func TestInMemoryQueue_PopHonorsContext(t *testing.T) {
	q := NewInMemoryQueue(0)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(0)
	require.NoError(t, q.Push(NewTask("https://shop.example/p/1", 0)))
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(NewTask("https://shop.example/p/2", 0)), ErrQueueClosed)

	task, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example/p/1", task.URL)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestInMemoryQueue_CloseWakesWaiters(t *testing.T) {
	q := NewInMemoryQueue(0)
	var wg sync.WaitGroup
	errs := make(chan error, 3)

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Pop(context.Background())
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Close())
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, ErrQueueClosed)
	}
}

func TestInMemoryQueue_MaxSize(t *testing.T) {
	q := NewInMemoryQueue(1)
	require.NoError(t, q.Push(NewTask("https://shop.example/p/1", 0)))
	assert.ErrorIs(t, q.Push(NewTask("https://shop.example/p/2", 0)), ErrQueueFull)

	assert.Equal(t, 1, q.Size())

	_, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.NoError(t, q.Push(NewTask("https://shop.example/p/2", 0)))
}
