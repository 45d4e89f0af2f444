package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Tim-0lu/env-can-wx-app/internal/descriptor"
	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
	"github.com/Tim-0lu/env-can-wx-app/shared/logger"
)

const handleH = jobqueue.Handle("6f1c1f0e-3b8a-4d3e-9a43-0c2f4e5b7a10")

var testCadence = Cadence{Active: 500 * time.Millisecond, Idle: 24 * time.Hour}

func torontoSelection() descriptor.Selection {
	lat, lon := 43.67, -79.4
	return descriptor.Selection{
		StationID:   "5051",
		StationName: "TORONTO",
		Latitude:    &lat,
		Longitude:   &lon,
		StartYear:   2010,
		StartMonth:  1,
		EndYear:     2010,
		EndMonth:    2,
		Frequency:   "Daily",
	}
}

func newTestSession(client jobqueue.Client, outcomes *[]Outcome) *Session {
	return NewSession(SessionConfig{
		ID:      "session-1",
		Client:  client,
		Logger:  logger.Discard(),
		Cadence: testCadence,
		OnHandoff: func(o Outcome) {
			if outcomes != nil {
				*outcomes = append(*outcomes, o)
			}
		},
	})
}

func assertIdle(t *testing.T, s *Session) {
	t.Helper()
	snap := s.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Empty(t, snap.Handle)
	assert.Equal(t, testCadence.Idle, snap.PollInterval)
}

func TestSession_StartsIdle(t *testing.T) {
	client := &mockClient{}
	s := newTestSession(client, nil)

	assertIdle(t, s)

	// Polling while idle queries nothing.
	res := s.Tick(context.Background())
	assert.Equal(t, StateIdle, res.To)
	assert.Nil(t, res.Outcome)
	client.AssertNotCalled(t, "Status", mock.Anything, mock.Anything)
}

func TestSession_TorontoScenario(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	var outcomes []Outcome
	s := newTestSession(client, &outcomes)

	client.On("Submit", mock.Anything, mock.AnythingOfType("descriptor.Descriptor")).Return(handleH, nil).Once()
	client.On("Status", mock.Anything, handleH).Return(pending(), nil).Once()
	client.On("Status", mock.Anything, handleH).Return(progress(), nil).Once()
	client.On("Status", mock.Anything, handleH).Return(success(map[string]any{}), nil).Once()
	client.On("Status", mock.Anything, handleH).
		Return(success(map[string]any{"result": true, "rows": float64(31)}), nil).Once()
	client.On("Discard", mock.Anything, handleH).Return(nil).Once()

	d, err := s.Submit(ctx, torontoSelection())
	require.NoError(t, err)
	assert.Equal(t, "WHC_TORONTO_5051_201001_201002_daily.csv", d.ArtifactName())

	snap := s.Snapshot()
	assert.Equal(t, StatePending, snap.State)
	assert.Equal(t, handleH, snap.Handle)
	assert.Equal(t, testCadence.Active, snap.PollInterval)
	assert.Equal(t, MessageStarting, snap.Message)

	assert.Equal(t, StatePending, s.Tick(ctx).To)
	assert.Equal(t, StateProgress, s.Tick(ctx).To)

	res := s.Tick(ctx)
	assert.Equal(t, StateSuccessPendingResult, res.To)
	assert.Nil(t, res.Outcome)
	assert.Equal(t, StateSuccessPendingResult, s.Snapshot().State)
	assert.Equal(t, testCadence.Active, s.PollInterval())
	client.AssertNotCalled(t, "Discard", mock.Anything, mock.Anything)

	res = s.Tick(ctx)
	assert.Equal(t, StateComplete, res.To)
	require.NotNil(t, res.Outcome)
	require.NotNil(t, res.Outcome.Artifact)
	assert.Equal(t, d.ArtifactName(), res.Outcome.Artifact.Name)
	assert.Equal(t, "TORONTO", res.Outcome.Artifact.Station.Name)
	assert.Equal(t, map[string]any{"rows": float64(31)}, res.Outcome.Artifact.Metadata)

	assertIdle(t, s)
	snap = s.Snapshot()
	require.NotNil(t, snap.LastOutcome)
	assert.Equal(t, StateComplete, snap.LastOutcome.State)
	assert.Equal(t, d.ArtifactName(), snap.ArtifactName)

	// Re-entrant ticks after the handoff do nothing.
	s.Tick(ctx)
	s.Tick(ctx)

	require.Len(t, outcomes, 1)
	client.AssertNumberOfCalls(t, "Discard", 1)
	client.AssertNumberOfCalls(t, "Status", 4)
	client.AssertExpectations(t)
}

func TestSession_SubmitRejectedWhileActive(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	s := newTestSession(client, nil)

	client.On("Submit", mock.Anything, mock.Anything).Return(handleH, nil).Once()
	_, err := s.Submit(ctx, torontoSelection())
	require.NoError(t, err)

	_, err = s.Submit(ctx, torontoSelection())
	require.ErrorIs(t, err, ErrJobActive)

	client.AssertNumberOfCalls(t, "Submit", 1)
	assert.Equal(t, handleH, s.Snapshot().Handle)
}

func TestSession_SubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(sel *descriptor.Selection)
		wantErr error
	}{
		{"same start and end", func(sel *descriptor.Selection) { sel.EndMonth = sel.StartMonth }, descriptor.ErrInvalidDateOrder},
		{"incomplete", func(sel *descriptor.Selection) { sel.Frequency = "" }, descriptor.ErrIncompleteSelection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{}
			s := newTestSession(client, nil)

			sel := torontoSelection()
			tt.mutate(&sel)

			_, err := s.Submit(context.Background(), sel)
			require.ErrorIs(t, err, tt.wantErr)
			client.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
			assertIdle(t, s)
		})
	}
}

func TestSession_QueueUnavailable(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	s := newTestSession(client, nil)

	client.On("Submit", mock.Anything, mock.Anything).
		Return(jobqueue.Handle(""), errors.New("dial tcp: refused")).Once()
	client.On("Submit", mock.Anything, mock.Anything).Return(handleH, nil).Once()

	_, err := s.Submit(ctx, torontoSelection())
	require.ErrorIs(t, err, jobqueue.ErrQueueUnavailable)
	assertIdle(t, s)
	assert.Equal(t, MessageQueueDown, s.Snapshot().Message)

	// The user may resubmit straight away.
	_, err = s.Submit(ctx, torontoSelection())
	require.NoError(t, err)
	assert.Equal(t, StatePending, s.Snapshot().State)
}

func TestSession_RemoteFailure(t *testing.T) {
	for _, from := range []string{"pending", "progress", "finalizing"} {
		t.Run(from, func(t *testing.T) {
			ctx := context.Background()
			client := &mockClient{}
			var outcomes []Outcome
			s := newTestSession(client, &outcomes)

			client.On("Submit", mock.Anything, mock.Anything).Return(handleH, nil)
			switch from {
			case "progress":
				client.On("Status", mock.Anything, handleH).Return(progress(), nil).Once()
			case "finalizing":
				client.On("Status", mock.Anything, handleH).Return(success(nil), nil).Once()
			}
			client.On("Status", mock.Anything, handleH).Return(failure(), nil).Once()
			client.On("Discard", mock.Anything, handleH).Return(nil).Once()

			_, err := s.Submit(ctx, torontoSelection())
			require.NoError(t, err)

			if from != "pending" {
				s.Tick(ctx)
			}
			res := s.Tick(ctx)

			assert.Equal(t, StateFailure, res.To)
			require.NotNil(t, res.Outcome)
			assert.Equal(t, MessageFailed, res.Outcome.Message)
			assert.Nil(t, res.Outcome.Artifact)
			assertIdle(t, s)
			assert.Len(t, outcomes, 1)
			client.AssertNumberOfCalls(t, "Discard", 1)
		})
	}
}

func TestSession_UnknownHandleDuringProgress(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	s := newTestSession(client, nil)

	client.On("Submit", mock.Anything, mock.Anything).Return(handleH, nil)
	client.On("Status", mock.Anything, handleH).Return(progress(), nil).Once()
	client.On("Status", mock.Anything, handleH).
		Return(jobqueue.RemoteStatus{}, jobqueue.ErrUnknownHandle).Once()
	client.On("Discard", mock.Anything, handleH).Return(nil).Once()

	_, err := s.Submit(ctx, torontoSelection())
	require.NoError(t, err)
	require.Equal(t, StateProgress, s.Tick(ctx).To)

	res := s.Tick(ctx)
	assert.Equal(t, StateFailure, res.To)
	require.NotNil(t, res.Outcome)
	assertIdle(t, s)
	client.AssertExpectations(t)
}

func TestSession_TransientStatusError(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	s := newTestSession(client, nil)

	client.On("Submit", mock.Anything, mock.Anything).Return(handleH, nil)
	client.On("Status", mock.Anything, handleH).Return(progress(), nil).Once()
	client.On("Status", mock.Anything, handleH).
		Return(jobqueue.RemoteStatus{}, errors.New("connection reset")).Once()
	client.On("Status", mock.Anything, handleH).Return(progress(), nil).Once()

	_, err := s.Submit(ctx, torontoSelection())
	require.NoError(t, err)
	s.Tick(ctx)

	res := s.Tick(ctx)
	assert.Equal(t, StateProgress, res.To)
	snap := s.Snapshot()
	assert.Equal(t, StateProgress, snap.State)
	assert.Equal(t, MessageStatusDegraded, snap.Message)
	assert.Contains(t, snap.LastError, "connection reset")

	s.Tick(ctx)
	snap = s.Snapshot()
	assert.Empty(t, snap.LastError)
	assert.Equal(t, MessageProgress, snap.Message)
	client.AssertNotCalled(t, "Discard", mock.Anything, mock.Anything)
}

func TestSession_DiscardErrorStillReturnsToIdle(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	s := newTestSession(client, nil)

	client.On("Submit", mock.Anything, mock.Anything).Return(handleH, nil)
	client.On("Status", mock.Anything, handleH).Return(failure(), nil).Once()
	client.On("Discard", mock.Anything, handleH).Return(errors.New("db down")).Once()

	_, err := s.Submit(ctx, torontoSelection())
	require.NoError(t, err)

	res := s.Tick(ctx)
	assert.Equal(t, StateFailure, res.To)
	assertIdle(t, s)
}

func TestSession_Reset(t *testing.T) {
	ctx := context.Background()
	client := &mockClient{}
	s := newTestSession(client, nil)

	client.On("Submit", mock.Anything, mock.Anything).Return(handleH, nil)
	client.On("Discard", mock.Anything, handleH).Return(nil).Once()

	_, err := s.Submit(ctx, torontoSelection())
	require.NoError(t, err)

	s.Reset(ctx)
	assertIdle(t, s)
	client.AssertNumberOfCalls(t, "Discard", 1)

	// Resetting an idle session does not contact the queue.
	s.Reset(ctx)
	client.AssertNumberOfCalls(t, "Discard", 1)

	_, err = s.Submit(ctx, torontoSelection())
	require.NoError(t, err)
}

func TestSession_SubmitWakesPoller(t *testing.T) {
	client := &mockClient{}
	s := newTestSession(client, nil)
	client.On("Submit", mock.Anything, mock.Anything).Return(handleH, nil)

	_, err := s.Submit(context.Background(), torontoSelection())
	require.NoError(t, err)

	select {
	case <-s.Wake():
	default:
		t.Fatal("expected wake signal after submit")
	}
}
