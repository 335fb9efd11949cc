package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/aseas-labs/grader-cli/pkg/anthropic"
)

// mockGatewayClient is a testify mock over the inference gateway.
type mockGatewayClient struct {
	mock.Mock
}

var _ anthropic.Client = (*mockGatewayClient)(nil)

func (m *mockGatewayClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if resp := args.Get(0); resp != nil {
		return resp.(*anthropic.MessageResponse), args.Error(1)
	}
	return nil, args.Error(1)
}

// textResponse builds a single-text-block response, the shape every test
// needs from the gateway.
func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}
}

// blockingClient parks every call until released, so tests can interleave
// reset or navigation with an in-flight gateway call.
type blockingClient struct {
	release  chan struct{}
	entered  chan struct{}
	response *anthropic.MessageResponse
	err      error
}

var _ anthropic.Client = (*blockingClient)(nil)

func newBlockingClient(resp *anthropic.MessageResponse, err error) *blockingClient {
	return &blockingClient{
		release:  make(chan struct{}),
		entered:  make(chan struct{}, 1),
		response: resp,
		err:      err,
	}
}

func (c *blockingClient) CreateMessage(ctx context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	select {
	case c.entered <- struct{}{}:
	default:
	}
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.response, c.err
}

// firstCallBlockingClient parks only the first call; later calls answer
// immediately. Lets tests start a second attempt while the first is still at
// the gateway.
type firstCallBlockingClient struct {
	release chan struct{}
	entered chan struct{}
	first   *anthropic.MessageResponse
	rest    *anthropic.MessageResponse

	mu    sync.Mutex
	calls int
}

var _ anthropic.Client = (*firstCallBlockingClient)(nil)

func newFirstCallBlockingClient(first, rest *anthropic.MessageResponse) *firstCallBlockingClient {
	return &firstCallBlockingClient{
		release: make(chan struct{}),
		entered: make(chan struct{}, 1),
		first:   first,
		rest:    rest,
	}
}

func (c *firstCallBlockingClient) CreateMessage(ctx context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()

	if n > 1 {
		return c.rest, nil
	}

	select {
	case c.entered <- struct{}{}:
	default:
	}
	select {
	case <-c.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return c.first, nil
}
