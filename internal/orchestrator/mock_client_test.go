package orchestrator

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Tim-0lu/env-can-wx-app/internal/descriptor"
	"github.com/Tim-0lu/env-can-wx-app/internal/jobqueue"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Submit(ctx context.Context, d descriptor.Descriptor) (jobqueue.Handle, error) {
	args := m.Called(ctx, d)
	return args.Get(0).(jobqueue.Handle), args.Error(1)
}

func (m *mockClient) Status(ctx context.Context, h jobqueue.Handle) (jobqueue.RemoteStatus, error) {
	args := m.Called(ctx, h)
	return args.Get(0).(jobqueue.RemoteStatus), args.Error(1)
}

func (m *mockClient) Discard(ctx context.Context, h jobqueue.Handle) error {
	args := m.Called(ctx, h)
	return args.Error(0)
}

func pending() jobqueue.RemoteStatus { return jobqueue.RemoteStatus{State: jobqueue.RemotePending} }
func progress() jobqueue.RemoteStatus {
	return jobqueue.RemoteStatus{State: jobqueue.RemoteProgress}
}
func failure() jobqueue.RemoteStatus { return jobqueue.RemoteStatus{State: jobqueue.RemoteFailure} }

func success(payload map[string]any) jobqueue.RemoteStatus {
	if payload == nil {
		payload = map[string]any{}
	}
	return jobqueue.RemoteStatus{State: jobqueue.RemoteSuccess, Payload: payload}
}
