package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kubilitics/kubilitics-pulse/pkg/types"
)

func testAlert() types.Alert {
	return types.Alert{
		ID:          "a-1",
		RuleID:      "high-cpu",
		RuleName:    "High CPU",
		MetricID:    "cpu_usage",
		Value:       91.5,
		Threshold:   80,
		Severity:    types.PriorityHigh,
		Message:     "cpu_usage avg 91.50 gt 80.00",
		TriggeredAt: time.Now(),
	}
}

func waitDone(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, d.Wait(ctx))
}

func TestDispatch_Webhook(t *testing.T) {
	var (
		mu       sync.Mutex
		received types.Alert
		auth     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDispatcher(time.Second, nil, nil)
	_, err := d.CreateChannel(context.Background(), "hook", types.ChannelDefinition{
		Name: "ops hook", Type: types.ChannelWebhook,
		Config: map[string]string{"url": srv.URL, "token": "s3cret"},
	})
	require.NoError(t, err)

	d.Dispatch(testAlert(), []string{"hook"})
	waitDone(t, d)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "high-cpu", received.RuleID)
	assert.Equal(t, 91.5, received.Value)
	assert.Equal(t, "Bearer s3cret", auth)
}

func TestDispatch_SlackPayload(t *testing.T) {
	var body map[string]string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	d := NewDispatcher(time.Second, nil, nil)
	_, err := d.CreateChannel(context.Background(), "slack", types.ChannelDefinition{
		Type: types.ChannelSlack, Config: map[string]string{"webhook_url": srv.URL},
	})
	require.NoError(t, err)

	d.Dispatch(testAlert(), []string{"slack"})
	waitDone(t, d)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, body["text"], "High CPU")
	assert.Contains(t, body["text"], "cpu_usage")
}

func TestDispatch_FailuresAndTimeoutsAreContained(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	d := NewDispatcher(50*time.Millisecond, nil, nil)
	ctx := context.Background()
	_, err := d.CreateChannel(ctx, "slow", types.ChannelDefinition{Type: types.ChannelWebhook, Config: map[string]string{"url": slow.URL}})
	require.NoError(t, err)
	_, err = d.CreateChannel(ctx, "broken", types.ChannelDefinition{Type: types.ChannelWebhook, Config: map[string]string{"url": broken.URL}})
	require.NoError(t, err)

	start := time.Now()
	d.Dispatch(testAlert(), []string{"slow", "broken", "missing"})
	assert.Less(t, time.Since(start), 50*time.Millisecond, "dispatch must not block")

	waitDone(t, d)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatch_SkipsDisabledAndFiltered(t *testing.T) {
	var calls int32
	d := NewDispatcher(time.Second, nil, nil)
	d.RegisterSender(types.ChannelEmail, SenderFunc(func(context.Context, types.NotificationChannel, types.Alert) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))
	ctx := context.Background()
	_, err := d.CreateChannel(ctx, "off", types.ChannelDefinition{Type: types.ChannelEmail, Disabled: true})
	require.NoError(t, err)
	_, err = d.CreateChannel(ctx, "critical-only", types.ChannelDefinition{Type: types.ChannelEmail, Config: map[string]string{"min_severity": "critical"}})
	require.NoError(t, err)
	_, err = d.CreateChannel(ctx, "all", types.ChannelDefinition{Type: types.ChannelEmail})
	require.NoError(t, err)

	d.Dispatch(testAlert(), []string{"off", "critical-only", "all"})
	waitDone(t, d)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDispatch_SenderPanicRecovered(t *testing.T) {
	d := NewDispatcher(time.Second, nil, nil)
	d.RegisterSender(types.ChannelPager, SenderFunc(func(context.Context, types.NotificationChannel, types.Alert) error {
		panic("pager exploded")
	}))
	_, err := d.CreateChannel(context.Background(), "pager", types.ChannelDefinition{Type: types.ChannelPager})
	require.NoError(t, err)

	d.Dispatch(testAlert(), []string{"pager"})
	waitDone(t, d)
}

func TestChannelRegistry(t *testing.T) {
	d := NewDispatcher(0, nil, nil)
	ctx := context.Background()

	_, err := d.CreateChannel(ctx, "", types.ChannelDefinition{Type: types.ChannelEmail})
	assert.True(t, errors.Is(err, types.ErrInvalid))

	_, err = d.CreateChannel(ctx, "x", types.ChannelDefinition{Type: "carrier-pigeon"})
	assert.True(t, errors.Is(err, types.ErrInvalid))

	cfg := map[string]string{"to": "oncall@example.com"}
	_, err = d.CreateChannel(ctx, "mail", types.ChannelDefinition{Name: "mail", Type: types.ChannelEmail, Config: cfg})
	require.NoError(t, err)
	cfg["to"] = "mutated"

	_, err = d.CreateChannel(ctx, "mail", types.ChannelDefinition{Type: types.ChannelEmail})
	assert.True(t, errors.Is(err, types.ErrInvalid))

	ch, ok := d.GetChannel("mail")
	require.True(t, ok)
	assert.Equal(t, "oncall@example.com", ch.Config["to"])

	_, err = d.UpdateChannel(ctx, "ghost", types.ChannelDefinition{Type: types.ChannelEmail})
	assert.True(t, errors.Is(err, types.ErrNotFound))

	updated, err := d.UpdateChannel(ctx, "mail", types.ChannelDefinition{Type: types.ChannelSMS, Disabled: true})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Len(t, d.ListChannels(), 1)
}

func TestWaitHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	d := NewDispatcher(time.Minute, nil, nil)
	d.RegisterSender(types.ChannelSMS, SenderFunc(func(context.Context, types.NotificationChannel, types.Alert) error {
		<-block
		return nil
	}))
	_, err := d.CreateChannel(context.Background(), "sms", types.ChannelDefinition{Type: types.ChannelSMS})
	require.NoError(t, err)
	d.Dispatch(testAlert(), []string{"sms"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, d.Wait(ctx))
}
