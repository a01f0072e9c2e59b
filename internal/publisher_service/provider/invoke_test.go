package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ondepub/autopost/internal/core_domain"
	"github.com/ondepub/autopost/internal/platform/logger"
)

type MockPublisherIface struct {
	mock.Mock
}

func (m *MockPublisherIface) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	args := m.Called(ctx, req)
	if fn, ok := args.Get(0).(func()); ok {
		fn()
		return nil, args.Error(1)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*PublishResult), args.Error(1)
}

func (m *MockPublisherIface) GetName() string {
	return "mock-iface"
}

func TestInvoke_Success(t *testing.T) {
	p := new(MockPublisherIface)
	req := PublishRequest{PostID: "p1", Platform: "x", Text: "hi"}
	p.On("Publish", mock.Anything, req).Return(&PublishResult{RemoteID: "1"}, nil).Once()

	res, err := Invoke(context.Background(), p, req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "1", res.RemoteID)
	p.AssertExpectations(t)
}

func TestInvoke_ErrorBecomesPublishError(t *testing.T) {
	p := new(MockPublisherIface)
	req := PublishRequest{PostID: "p1", Platform: "ig"}
	p.On("Publish", mock.Anything, req).Return(nil, errors.New("vendor said no")).Once()

	_, err := Invoke(context.Background(), p, req, time.Second)
	var pe *core_domain.PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "ig", pe.Platform)
	assert.Equal(t, "vendor said no", pe.Reason)
}

func TestInvoke_NilResult(t *testing.T) {
	p := new(MockPublisherIface)
	req := PublishRequest{PostID: "p1", Platform: "x"}
	p.On("Publish", mock.Anything, req).Return(nil, nil).Once()

	_, err := Invoke(context.Background(), p, req, time.Second)
	var pe *core_domain.PublishError
	require.ErrorAs(t, err, &pe)
}

func TestInvoke_PanicIsRecovered(t *testing.T) {
	p := new(MockPublisherIface)
	req := PublishRequest{PostID: "p1", Platform: "tiktok"}
	p.On("Publish", mock.Anything, req).Return(func() { panic("sdk exploded") }, nil).Once()

	_, err := Invoke(context.Background(), p, req, time.Second)
	var pe *core_domain.PublishError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "sdk exploded")
}

func TestInvoke_TimeoutIsFailure(t *testing.T) {
	slow := NewMockPublisher(logger.Discard(), "x", false, time.Second)

	start := time.Now()
	_, err := Invoke(context.Background(), slow, PublishRequest{PostID: "p1", Platform: "x"}, 20*time.Millisecond)
	var pe *core_domain.PublishError
	require.ErrorAs(t, err, &pe)
	assert.Contains(t, pe.Reason, "timed out")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestMockPublisher(t *testing.T) {
	ok := NewMockPublisher(logger.Discard(), "instagram", false, 0)
	res, err := ok.Publish(context.Background(), PublishRequest{PostID: "p1"})
	require.NoError(t, err)
	assert.Contains(t, res.RemoteID, "mock-")
	assert.Equal(t, "mock-instagram", ok.GetName())

	failing := NewMockPublisher(logger.Discard(), "instagram", true, 0)
	_, err = failing.Publish(context.Background(), PublishRequest{PostID: "p1"})
	assert.Error(t, err)
}

func TestRegistry_Aliases(t *testing.T) {
	reg := NewRegistry()
	x := NewMockPublisher(logger.Discard(), "x", false, 0)
	ig := NewMockPublisher(logger.Discard(), "instagram", false, 0)
	reg.Register("x", x, "twitter")
	reg.Register("instagram", ig, "ig")

	for _, id := range []string{"x", "X", "twitter", " twitter "} {
		p, ok := reg.Lookup(id)
		require.True(t, ok, id)
		assert.Same(t, x, p)
	}
	p, ok := reg.Lookup("ig")
	require.True(t, ok)
	assert.Same(t, ig, p)

	_, ok = reg.Lookup("myspace")
	assert.False(t, ok)
	assert.Equal(t, []string{"instagram", "x"}, reg.Names())
}

func TestWithRateLimit(t *testing.T) {
	base := NewMockPublisher(logger.Discard(), "x", false, 0)
	assert.Same(t, Publisher(base), WithRateLimit(base, 0))

	limited := WithRateLimit(base, 60)
	assert.Equal(t, "mock-x", limited.GetName())

	_, err := limited.Publish(context.Background(), PublishRequest{PostID: "p1"})
	require.NoError(t, err, "first call uses the burst")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = limited.Publish(ctx, PublishRequest{PostID: "p2"})
	assert.Error(t, err, "second call within the same second must wait past the deadline")
}
