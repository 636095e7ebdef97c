package agentclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyErrorKinds(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, ErrorKindRateLimit, ClassifyError(ctx, errors.New("429 too many requests")).Kind)
	require.Equal(t, ErrorKindAuth, ClassifyError(ctx, errors.New("401 unauthorized")).Kind)
	require.Equal(t, ErrorKindTimeout, ClassifyError(ctx, errors.New("context deadline exceeded")).Kind)
	require.Equal(t, ErrorKindTransient, ClassifyError(ctx, errors.New("connection refused")).Kind)
	require.Equal(t, ErrorKindFatal, ClassifyError(ctx, errors.New("invalid piece yaml")).Kind)
}

func TestClassifyErrorInterruptedOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ClassifyError(ctx, errors.New("connection refused"))
	require.Equal(t, ErrorKindInterrupted, err.Kind)
}

type countingClient struct {
	failuresLeft int
	calls        int
}

func (c *countingClient) Call(ctx context.Context, persona, prompt string, opts CallOptions) (Response, error) {
	c.calls++
	if c.failuresLeft > 0 {
		c.failuresLeft--
		return Response{}, errors.New("503 service unavailable")
	}
	return Response{Status: StatusDone, Content: "ok"}, nil
}

func TestCallWithRetryRecoversFromTransientFailures(t *testing.T) {
	client := &countingClient{failuresLeft: 2}
	resp, err := CallWithRetry(context.Background(), client, "persona", "prompt", CallOptions{})
	require.NoError(t, err)
	require.Equal(t, "ok", resp.Content)
	require.Equal(t, 3, client.calls)
}

type authFailClient struct{ calls int }

func (c *authFailClient) Call(ctx context.Context, persona, prompt string, opts CallOptions) (Response, error) {
	c.calls++
	return Response{}, errors.New("401 unauthorized")
}

func TestCallWithRetryDoesNotRetryAuthErrors(t *testing.T) {
	client := &authFailClient{}
	_, err := CallWithRetry(context.Background(), client, "persona", "prompt", CallOptions{})
	require.Error(t, err)
	require.Equal(t, 1, client.calls)
}
