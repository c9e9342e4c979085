package event

import (
	"context"
	"testing"
	"time"

	"github.com/lesleslie/oneiric/pkg/config"
	"github.com/lesleslie/oneiric/pkg/lifecycle"
	"github.com/lesleslie/oneiric/pkg/registry"
	"github.com/lesleslie/oneiric/pkg/resolver"
	"github.com/lesleslie/oneiric/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	calls *int
	fail  bool
}

func (h *recordingHandler) Handle(ctx context.Context, topic string, payload, headers map[string]any) error {
	*h.calls++
	if h.fail {
		return assert.AnError
	}
	return nil
}

func newDispatcher(t *testing.T, candidates ...types.Candidate) *Dispatcher {
	t.Helper()
	reg := registry.New()
	for _, c := range candidates {
		_, err := reg.Register(c, false)
		require.NoError(t, err)
	}
	res := resolver.New(reg, config.AdapterSettings{}, nil)
	lm := lifecycle.New(res)
	return New(res, lm)
}

func handlerCandidate(key, provider string, calls *int, fail bool, priority int32, fanout types.FanoutPolicy) types.Candidate {
	h := &recordingHandler{calls: calls, fail: fail}
	return types.Candidate{
		Domain: types.DomainEvent, Key: key, Provider: provider,
		Factory: func(ctx context.Context, settings types.Settings) (types.Instance, error) { return h, nil },
		Metadata: types.Metadata{
			EventTopics:       []string{"order.created"},
			EventPriority:     priority,
			EventFanoutPolicy: fanout,
		},
	}
}

func TestDispatch_AllPolicyInvokesEverySurvivorInPriorityOrder(t *testing.T) {
	var order []string
	var c1, c2 int
	first := handlerCandidate("audit", "audit-1", &c1, false, 10, types.FanoutAll)
	second := handlerCandidate("notify", "notify-1", &c2, false, 1, types.FanoutAll)

	d := newDispatcher(t, first, second)
	results, err := d.Dispatch(context.Background(), "order.created", map[string]any{"id": 1}, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		order = append(order, r.Provider)
	}
	assert.Equal(t, []string{"audit-1", "notify-1"}, order)
	assert.Equal(t, 1, c1)
	assert.Equal(t, 1, c2)
}

func TestDispatch_ExclusivePolicyInvokesOnlyTopSurvivor(t *testing.T) {
	var c1, c2 int
	high := handlerCandidate("primary", "primary-1", &c1, false, 10, types.FanoutExclusive)
	low := handlerCandidate("secondary", "secondary-1", &c2, false, 1, types.FanoutExclusive)

	d := newDispatcher(t, high, low)
	results, err := d.Dispatch(context.Background(), "order.created", nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "primary-1", results[0].Provider)
	assert.Equal(t, 1, c1)
	assert.Equal(t, 0, c2)
}

func TestDispatch_ExclusiveFailureReturnsHandlerError(t *testing.T) {
	var calls int
	c := handlerCandidate("primary", "primary-1", &calls, true, 10, types.FanoutExclusive)

	d := newDispatcher(t, c)
	d.defaultTimeout = 100 * time.Millisecond
	_, err := d.Dispatch(context.Background(), "order.created", nil, nil)
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.KindHandlerError))
}

func TestDispatch_AllPolicyFailureIsCapturedNotReturned(t *testing.T) {
	var calls int
	c := handlerCandidate("primary", "primary-1", &calls, true, 10, types.FanoutAll)

	d := newDispatcher(t, c)
	d.defaultTimeout = 100 * time.Millisecond
	results, err := d.Dispatch(context.Background(), "order.created", nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "error", results[0].Status)
}

func TestDispatch_FiltersByEqualsOperator(t *testing.T) {
	var calls int
	c := handlerCandidate("region-us", "region-us", &calls, false, 1, types.FanoutAll)
	c.Metadata.EventFilters = []types.EventFilter{{Path: "payload.region", Operator: types.OpEquals, Value: "us"}}

	d := newDispatcher(t, c)
	results, err := d.Dispatch(context.Background(), "order.created", map[string]any{"region": "eu"}, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = d.Dispatch(context.Background(), "order.created", map[string]any{"region": "us"}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestDispatch_NoSubscribersReturnsEmpty(t *testing.T) {
	d := newDispatcher(t)
	results, err := d.Dispatch(context.Background(), "nothing.subscribed", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}
