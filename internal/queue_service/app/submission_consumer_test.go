package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/platform/logger"
	"github.com/ondepub/autopost/internal/platform/messagebroker"
)

type MockSubmitter struct {
	mock.Mock
}

func (m *MockSubmitter) Submit(ctx context.Context, req SubmitRequest) (*core_domain.PostRecord, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*core_domain.PostRecord), args.Error(1)
}

type fakeMessage struct {
	subject string
	data    []byte
}

func (m fakeMessage) Subject() string { return m.subject }
func (m fakeMessage) Data() []byte    { return m.data }

type fakeSubscription struct{}

func (fakeSubscription) Unsubscribe() error { return nil }

func TestSubmissionConsumer_HandleSubmission(t *testing.T) {
	submitter := new(MockSubmitter)
	consumer := NewSubmissionConsumer(submitter, new(MockNATSClient), logger.Discard())

	want := SubmitRequest{Text: "fresh content", Platforms: []string{"x", "tiktok"}, Source: "generator"}
	submitter.On("Submit", mock.Anything, want).Return(&core_domain.PostRecord{ID: "p1"}, nil).Once()

	consumer.HandleSubmission(context.Background(), SubjectPostSubmit,
		[]byte(`{"text":"fresh content","platforms":["x","tiktok"],"source":"generator"}`))
	submitter.AssertExpectations(t)
}

func TestSubmissionConsumer_DropsMalformedAndInvalid(t *testing.T) {
	submitter := new(MockSubmitter)
	consumer := NewSubmissionConsumer(submitter, new(MockNATSClient), logger.Discard())

	consumer.HandleSubmission(context.Background(), SubjectPostSubmit, []byte(`{not json`))
	submitter.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)

	submitter.On("Submit", mock.Anything, mock.Anything).Return(nil, &core_domain.ValidationError{Field: "platforms", Reason: "missing"}).Once()
	consumer.HandleSubmission(context.Background(), SubjectPostSubmit, []byte(`{"text":"no platforms"}`))
	submitter.AssertExpectations(t)
}

func TestSubmissionConsumer_Start(t *testing.T) {
	submitter := new(MockSubmitter)
	natsClient := new(MockNATSClient)
	consumer := NewSubmissionConsumer(submitter, natsClient, logger.Discard())

	var captured func(messagebroker.Message)
	natsClient.On("Subscribe", mock.Anything, SubjectPostSubmit, SubmitQueueGroup, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.Get(3).(func(messagebroker.Message)) }).
		Return(fakeSubscription{}, nil).Once()
	submitter.On("Submit", mock.Anything, mock.Anything).Return(&core_domain.PostRecord{ID: "p9"}, nil).Once()

	sub, err := consumer.Start(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sub)
	require.NotNil(t, captured)

	captured(fakeMessage{subject: SubjectPostSubmit, data: []byte(`{"text":"hi","platforms":["x"]}`)})
	submitter.AssertExpectations(t)
	natsClient.AssertExpectations(t)
}

func TestSubmissionConsumer_StartError(t *testing.T) {
	natsClient := new(MockNATSClient)
	natsClient.On("Subscribe", mock.Anything, SubjectPostSubmit, SubmitQueueGroup, mock.Anything).
		Return(nil, errors.New("not connected")).Once()
	consumer := NewSubmissionConsumer(new(MockSubmitter), natsClient, logger.Discard())

	_, err := consumer.Start(context.Background())
	assert.Error(t, err)
}

type countingProcessor struct {
	calls int32
	err   error
}

func (p *countingProcessor) ProcessApproved(ctx context.Context) (int, error) {
	atomic.AddInt32(&p.calls, 1)
	return 1, p.err
}

func TestRecoveryPoller(t *testing.T) {
	once := &countingProcessor{}
	require.NoError(t, NewRecoveryPoller(once, 0, logger.Discard()).Run(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&once.calls), "zero interval sweeps exactly once")

	periodic := &countingProcessor{err: errors.New("transient")}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, NewRecoveryPoller(periodic, 10*time.Millisecond, logger.Discard()).Run(ctx))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&periodic.calls), int32(3))
}
