package tasks_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/condamirror/condamirror/internal/tasks"
)

type fakeTask struct {
	id      int
	delay   time.Duration
	failAt  bool
	started chan int
	result  tasks.Result
}

func (f *fakeTask) Run(ctx context.Context, rc *tasks.RunContext) ([]tasks.Result, error) {
	if f.started != nil {
		f.started <- f.id
	}
	rc.Wait()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failAt {
		return nil, errors.New("boom")
	}
	return []tasks.Result{f.result}, nil
}

func TestRunner_Run_CollectsAllResults(t *testing.T) {
	t.Parallel()

	r := tasks.New(tasks.WithConcurrency(4))
	rc := tasks.NewRunContext(nil)

	taskList := []tasks.Task{
		&fakeTask{id: 1, result: "a"},
		&fakeTask{id: 2, result: "b"},
		&fakeTask{id: 3, result: "c"},
	}

	results, err := r.Run(context.Background(), rc, taskList)
	require.NoError(t, err)
	require.Len(t, results, 3)
}

func TestRunner_Run_StopsOnFirstError(t *testing.T) {
	t.Parallel()

	r := tasks.New(tasks.WithConcurrency(1))
	rc := tasks.NewRunContext(nil)

	taskList := []tasks.Task{
		&fakeTask{id: 1, failAt: true},
		&fakeTask{id: 2, result: "unreached"},
	}

	_, err := r.Run(context.Background(), rc, taskList)
	require.Error(t, err)
}

func TestRunner_RunSerial_PreservesOrder(t *testing.T) {
	t.Parallel()

	r := tasks.New()
	rc := tasks.NewRunContext(nil)

	var mu sync.Mutex
	var order []int
	taskList := []tasks.Task{
		orderedTask{id: 1, order: &order, mu: &mu},
		orderedTask{id: 2, order: &order, mu: &mu},
		orderedTask{id: 3, order: &order, mu: &mu},
	}

	results, err := r.RunSerial(context.Background(), rc, taskList)
	require.NoError(t, err)
	require.Equal(t, []tasks.Result{1, 2, 3}, results)
	require.Equal(t, []int{1, 2, 3}, order)
}

type orderedTask struct {
	id    int
	order *[]int
	mu    *sync.Mutex
}

func (o orderedTask) Run(ctx context.Context, rc *tasks.RunContext) ([]tasks.Result, error) {
	o.mu.Lock()
	*o.order = append(*o.order, o.id)
	o.mu.Unlock()
	return []tasks.Result{o.id}, nil
}

func TestRunContext_WaitEnforcesFloor(t *testing.T) {
	t.Parallel()

	rc := tasks.NewRunContext(nil)
	rc.Wait()

	start := time.Now()
	rc.Wait()
	require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestRunContext_OnTaskDoneReportsCompletedAndTotal(t *testing.T) {
	t.Parallel()

	r := tasks.New(tasks.WithConcurrency(1))
	rc := tasks.NewRunContext(nil)

	var mu sync.Mutex
	var completedSeen []int
	var totalSeen int
	rc.OnTaskDone = func(completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		completedSeen = append(completedSeen, completed)
		totalSeen = total
	}

	taskList := []tasks.Task{
		&fakeTask{id: 1, result: "a"},
		&fakeTask{id: 2, result: "b"},
	}

	_, err := r.Run(context.Background(), rc, taskList)
	require.NoError(t, err)
	require.Equal(t, 2, totalSeen)
	require.Equal(t, []int{1, 2}, completedSeen)
}

func TestRunner_Run_SkipsUnstartedTasksAfterCancellation(t *testing.T) {
	t.Parallel()

	r := tasks.New(tasks.WithConcurrency(1))
	rc := tasks.NewRunContext(nil)

	started := make(chan int, 10)
	taskList := []tasks.Task{
		&fakeTask{id: 1, failAt: true, started: started},
		&fakeTask{id: 2, result: "b", started: started},
		&fakeTask{id: 3, result: "c", started: started},
	}

	_, err := r.Run(context.Background(), rc, taskList)
	require.Error(t, err)
	close(started)

	var startedIDs []int
	for id := range started {
		startedIDs = append(startedIDs, id)
	}
	require.Equal(t, []int{1}, startedIDs)
}
