package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talkxo/sequence-email/pkg/llm"
)

// fakeProvider answers from a per-key script and records every call.
type fakeProvider struct {
	mu       sync.Mutex
	calls    []llm.Request
	complete func(ctx context.Context, req llm.Request) (*llm.Response, error)
}

func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.complete(ctx, req)
}

func (f *fakeProvider) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, len(f.calls))
	for i, c := range f.calls {
		keys[i] = c.APIKey
	}
	return keys
}

func newTestPool(t *testing.T, n int) *Pool {
	t.Helper()
	creds := make([]Credential, n)
	for i := range creds {
		creds[i] = Credential{Name: fmt.Sprintf("key-%d", i+1), Secret: fmt.Sprintf("sk-%d", i+1)}
	}
	pool, err := NewPool(creds)
	require.NoError(t, err)
	return pool
}

func alwaysFail(err error) func(context.Context, llm.Request) (*llm.Response, error) {
	return func(context.Context, llm.Request) (*llm.Response, error) { return nil, err }
}

func TestDispatchSuccessFirstAttempt(t *testing.T) {
	provider := &fakeProvider{complete: func(_ context.Context, req llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "hello from " + req.Model}, nil
	}}
	pool := newTestPool(t, 2)
	d := New(provider, pool)

	text, err := d.Dispatch(context.Background(), Request{Prompt: "hi", MaxTokens: 120, Temperature: 0.3})
	require.NoError(t, err)
	assert.Equal(t, "hello from meta-llama/llama-3.2-3b-instruct:free", text)
	assert.Equal(t, []string{"sk-1"}, provider.keys())

	st := d.Stats()
	assert.Equal(t, 1, st.TotalAttempts)
	assert.Equal(t, 1.0, st.SuccessRate)
	assert.Equal(t, 1, st.Credentials[0].SuccessCount)
	assert.False(t, st.Credentials[0].LastUsed.IsZero())
}

func TestDispatchRotatesOnFailure(t *testing.T) {
	provider := &fakeProvider{complete: func(_ context.Context, req llm.Request) (*llm.Response, error) {
		if req.APIKey == "sk-1" {
			return nil, errors.New("rate limited")
		}
		return &llm.Response{Content: "ok"}, nil
	}}
	pool := newTestPool(t, 3)
	d := New(provider, pool)

	text, err := d.Dispatch(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, []string{"sk-1", "sk-2"}, provider.keys())

	creds := pool.Snapshot()
	assert.Equal(t, 1, creds[0].ErrorCount)
	assert.Equal(t, 1, creds[1].SuccessCount)
	assert.True(t, creds[0].Active, "failed credential must stay active")
}

func TestDispatchExhaustsBudget(t *testing.T) {
	tests := []struct {
		name     string
		poolSize int
		want     int
	}{
		{"single credential", 1, 1},
		{"two credentials", 2, 2},
		{"capped at three", 4, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause := errors.New("upstream down")
			provider := &fakeProvider{complete: alwaysFail(cause)}
			d := New(provider, newTestPool(t, tt.poolSize))

			_, err := d.Dispatch(context.Background(), Request{Prompt: "hi"})
			require.Error(t, err)

			var ex *ExhaustedError
			require.ErrorAs(t, err, &ex)
			assert.Equal(t, tt.want, ex.Attempts)
			assert.False(t, ex.Timeout)
			assert.ErrorIs(t, err, cause)
			assert.Len(t, provider.keys(), tt.want)
		})
	}
}

func TestDispatchCountsPerUnnamedCredential(t *testing.T) {
	pool, err := NewPool([]Credential{{Secret: "a"}, {Secret: "b"}, {Secret: "c"}})
	require.NoError(t, err)
	provider := &fakeProvider{complete: alwaysFail(errors.New("upstream down"))}
	d := New(provider, pool)

	_, err = d.Dispatch(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, provider.keys())

	st := d.Stats()
	assert.Equal(t, 3, st.TotalAttempts)
	for _, c := range st.Credentials {
		assert.Equal(t, 1, c.ErrorCount, c.Name)
	}
}

func TestDispatchEmptyContentIsFailure(t *testing.T) {
	provider := &fakeProvider{complete: func(_ context.Context, req llm.Request) (*llm.Response, error) {
		if req.APIKey == "sk-1" {
			return &llm.Response{Content: "  "}, nil
		}
		return &llm.Response{Content: "filled"}, nil
	}}
	d := New(provider, newTestPool(t, 2))

	text, err := d.Dispatch(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "filled", text)
}

func TestDispatchContextHintSelectsModel(t *testing.T) {
	var got []string
	var mu sync.Mutex
	provider := &fakeProvider{complete: func(_ context.Context, req llm.Request) (*llm.Response, error) {
		mu.Lock()
		got = append(got, req.Model)
		mu.Unlock()
		return &llm.Response{Content: "ok"}, nil
	}}
	d := New(provider, newTestPool(t, 1))

	for _, hint := range []int{0, 4000, 100000, 200000} {
		_, err := d.Dispatch(context.Background(), Request{Prompt: "hi", ContextLength: hint})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{
		"meta-llama/llama-3.2-3b-instruct:free",
		"meta-llama/llama-3.2-3b-instruct:free",
		"microsoft/phi-3-mini-128k-instruct:free",
		"meta-llama/llama-3.2-3b-instruct:free",
	}, got)
}

func TestDispatchAttemptTimeout(t *testing.T) {
	provider := &fakeProvider{complete: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	d := New(provider, newTestPool(t, 2), WithAttemptTimeout(20*time.Millisecond))

	_, err := d.Dispatch(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 2, ex.Attempts)
	assert.Contains(t, err.Error(), "timed out")
}

func TestDispatchCallerCancelStopsAttempts(t *testing.T) {
	provider := &fakeProvider{complete: func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	d := New(provider, newTestPool(t, 3))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Dispatch(ctx, Request{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Len(t, provider.keys(), 1)
}

func TestDispatchRecoversDeactivatedPool(t *testing.T) {
	provider := &fakeProvider{complete: func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: "ok"}, nil
	}}
	pool := newTestPool(t, 2)
	pool.SetActive("key-1", false)
	pool.SetActive("key-2", false)
	d := New(provider, pool)

	_, err := d.Dispatch(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Stats().ActiveCredentials)
}

func TestDispatchConcurrentCounters(t *testing.T) {
	provider := &fakeProvider{complete: func(_ context.Context, req llm.Request) (*llm.Response, error) {
		if req.APIKey == "sk-2" {
			return nil, errors.New("boom")
		}
		return &llm.Response{Content: "ok"}, nil
	}}
	pool := newTestPool(t, 3)
	d := New(provider, pool)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), Request{Prompt: "hi"})
		}()
	}
	wg.Wait()

	st := d.Stats()
	assert.Equal(t, len(provider.keys()), st.TotalAttempts)
	for _, c := range pool.Snapshot() {
		calls := 0
		for _, k := range provider.keys() {
			if k == c.Secret {
				calls++
			}
		}
		assert.Equal(t, calls, c.SuccessCount+c.ErrorCount, c.Name)
	}
}

func TestDispatchMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	provider := &fakeProvider{complete: alwaysFail(errors.New("nope"))}
	d := New(provider, newTestPool(t, 2), WithMetrics(metrics))

	_, err := d.Dispatch(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.attempts.WithLabelValues("key-1", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.attempts.WithLabelValues("key-2", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.exhausted.WithLabelValues("error")))
}
