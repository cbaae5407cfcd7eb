package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	priority int
	async    bool
	calls    *[]int
	err      error
}

func (l *recordingListener) OnEvent(ctx context.Context, event HookEvent) error {
	*l.calls = append(*l.calls, l.priority)
	return l.err
}
func (l *recordingListener) Priority() int { return l.priority }
func (l *recordingListener) IsAsync() bool { return l.async }

func TestListenersFireInPriorityOrder(t *testing.T) {
	m := NewHookManager(nil)
	var calls []int
	m.Register(EventPostWrite, &recordingListener{priority: 5, calls: &calls})
	m.Register(EventPostWrite, &recordingListener{priority: 1, calls: &calls})
	m.Register(EventPostWrite, &recordingListener{priority: 3, calls: &calls})

	require.NoError(t, m.Trigger(context.Background(), NewPostWriteEvent(PostWritePayload{})))
	require.Equal(t, []int{1, 3, 5}, calls)
}

func TestPreHookErrorCancelsOperation(t *testing.T) {
	m := NewHookManager(nil)
	var calls []int
	m.Register(EventPreWrite, &recordingListener{priority: 1, calls: &calls, err: errors.New("rejected")})

	err := m.Trigger(context.Background(), NewPreWriteEvent(PreWritePayload{}))
	require.Error(t, err)
}

func TestAsyncPostHookDoesNotBlockTrigger(t *testing.T) {
	m := NewHookManager(nil)
	var calls []int
	m.Register(EventPostWrite, &recordingListener{priority: 1, async: true, calls: &calls})

	require.NoError(t, m.Trigger(context.Background(), NewPostWriteEvent(PostWritePayload{})))
	m.Stop()
	require.Equal(t, []int{1}, calls)
}
