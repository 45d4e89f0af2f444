package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
	"github.com/Tim-0lu/env-can-wx-app/shared/logger"
)

func TestPoller_DrivesJobToCompletion(t *testing.T) {
	client := &mockClient{}
	client.On("Submit", mock.Anything, mock.Anything).Return(handleH, nil)
	client.On("Status", mock.Anything, handleH).Return(progress(), nil).Once()
	client.On("Status", mock.Anything, handleH).Return(success(nil), nil).Once()
	client.On("Status", mock.Anything, handleH).Return(success(map[string]any{"result": true}), nil).Once()
	client.On("Discard", mock.Anything, handleH).Return(nil).Once()

	var (
		mu       sync.Mutex
		outcomes []Outcome
	)
	s := NewSession(SessionConfig{
		ID:      "poller",
		Client:  client,
		Logger:  logger.Discard(),
		Cadence: Cadence{Active: 5 * time.Millisecond, Idle: time.Hour},
		OnHandoff: func(o Outcome) {
			mu.Lock()
			outcomes = append(outcomes, o)
			mu.Unlock()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewPoller(s, logger.Discard(), time.Second).Run(ctx)
	}()

	// The poller starts on the idle cadence; submitting must wake it.
	_, err := s.Submit(context.Background(), torontoSelection())
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(outcomes) == 1
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, StateIdle, s.Snapshot().State)
	assert.Equal(t, time.Hour, s.PollInterval())

	// Once idle the poller must not query the queue again.
	time.Sleep(30 * time.Millisecond)
	client.AssertNumberOfCalls(t, "Status", 3)
	client.AssertNumberOfCalls(t, "Discard", 1)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_StatusTimeout(t *testing.T) {
	client := &mockClient{}
	client.On("Submit", mock.Anything, mock.Anything).Return(handleH, nil)

	deadlines := make(chan bool, 4)
	client.On("Status", mock.Anything, handleH).Run(func(args mock.Arguments) {
		_, ok := args.Get(0).(context.Context).Deadline()
		select {
		case deadlines <- ok:
		default:
		}
	}).Return(jobqueue.RemoteStatus{State: jobqueue.RemotePending}, nil)
	client.On("Discard", mock.Anything, handleH).Return(nil)

	s := NewSession(SessionConfig{
		ID:      "timeout",
		Client:  client,
		Logger:  logger.Discard(),
		Cadence: Cadence{Active: 5 * time.Millisecond, Idle: time.Hour},
	})
	_, err := s.Submit(context.Background(), torontoSelection())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go NewPoller(s, logger.Discard(), 50*time.Millisecond).Run(ctx)

	select {
	case ok := <-deadlines:
		assert.True(t, ok, "status call should carry a deadline")
	case <-time.After(2 * time.Second):
		t.Fatal("no status call observed")
	}
}
