package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-lynx/nexus/config"
	"github.com/go-lynx/nexus/faults"
)

type pingEvent struct{ N int }

type named interface{ Label() string }

type UserEvent struct{ User string }

func (u UserEvent) Label() string { return "user:" + u.User }

type LoginEvent struct {
	UserEvent
	Remote string
}

type getUser struct{ ID int }

type userView struct{ Name string }

func newTestBus() *Bus { return New(DefaultOptions()) }

func TestPublish_SyncPriorityOrder(t *testing.T) {
	b := newTestBus()
	var order []string
	Subscribe(b, func(pingEvent) { order = append(order, "late") }, WithPriority(10))
	Subscribe(b, func(pingEvent) { order = append(order, "first") }, WithPriority(-5))
	Subscribe(b, func(pingEvent) { order = append(order, "a") })
	Subscribe(b, func(pingEvent) { order = append(order, "b") })

	Publish(b, pingEvent{N: 1})

	assert.Equal(t, []string{"first", "a", "b", "late"}, order)
}

func TestPublish_AsyncDeferredUntilDrain(t *testing.T) {
	b := New(Options{MaxAsyncPerDrain: 2})
	var got []int
	Subscribe(b, func(e pingEvent) { got = append(got, e.N) }, Async())

	for i := 1; i <= 3; i++ {
		Publish(b, pingEvent{N: i})
	}
	assert.Empty(t, got)
	assert.Equal(t, 3, b.Pending())

	assert.Equal(t, 2, b.ProcessPending())
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 1, b.Pending())

	assert.Equal(t, 1, b.ProcessPending())
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 0, b.ProcessPending())
}

func TestProcessPending_RequeuedDeliveriesWaitForNextDrain(t *testing.T) {
	b := New(Options{MaxAsyncPerDrain: 10})
	var got []int
	Subscribe(b, func(e pingEvent) {
		got = append(got, e.N)
		if e.N < 3 {
			Publish(b, pingEvent{N: e.N + 1})
		}
	}, Async())

	Publish(b, pingEvent{N: 1})
	assert.Equal(t, 1, b.ProcessPending())
	assert.Equal(t, []int{1}, got)
	assert.Equal(t, 1, b.Pending())

	assert.Equal(t, 1, b.ProcessPending())
	assert.Equal(t, 1, b.ProcessPending())
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 0, b.ProcessPending())
}

func TestUnsubscribe_IdempotentAndDropsQueued(t *testing.T) {
	b := newTestBus()
	calls := 0
	sub := Subscribe(b, func(pingEvent) { calls++ }, Async())
	Publish(b, pingEvent{})
	require.Equal(t, 1, b.Pending())

	assert.True(t, b.Unsubscribe(sub))
	assert.False(t, b.Unsubscribe(sub))
	assert.False(t, sub.Cancel())
	assert.Equal(t, 0, b.Pending())

	b.ProcessPending()
	Publish(b, pingEvent{})
	assert.Zero(t, calls)
	assert.False(t, Subscription{}.Cancel())
}

func TestUnsubscribe_DuringDispatchStopsLaterDelivery(t *testing.T) {
	b := newTestBus()
	var second Subscription
	calls := 0
	Subscribe(b, func(pingEvent) { b.Unsubscribe(second) }, WithPriority(-1))
	second = Subscribe(b, func(pingEvent) { calls++ })

	Publish(b, pingEvent{})
	assert.Zero(t, calls)
}

func TestPublish_InheritanceDispatch(t *testing.T) {
	b := newTestBus()
	var seen []string
	Subscribe(b, func(e LoginEvent) { seen = append(seen, "login:"+e.Remote) })
	Subscribe(b, func(e UserEvent) { seen = append(seen, "user:"+e.User) })
	Subscribe(b, func(e named) { seen = append(seen, "named:"+e.Label()) })
	Subscribe(b, func(any) { seen = append(seen, "any") }, WithPriority(100))

	Publish(b, LoginEvent{UserEvent: UserEvent{User: "ada"}, Remote: "10.0.0.1"})

	assert.Equal(t, []string{"login:10.0.0.1", "user:ada", "named:user:ada", "any"}, seen)
}

func TestPublish_InheritanceCacheRefreshesForNewInterface(t *testing.T) {
	b := newTestBus()
	Publish(b, UserEvent{User: "x"})

	hits := 0
	Subscribe(b, func(named) { hits++ })
	Publish(b, UserEvent{User: "y"})

	assert.Equal(t, 1, hits)
}

func TestPublish_InheritanceDisabled(t *testing.T) {
	opts := DefaultOptions()
	opts.InheritanceDispatch = false
	b := New(opts)
	hits := 0
	Subscribe(b, func(named) { hits++ })
	Subscribe(b, func(UserEvent) { hits++ })

	Publish(b, LoginEvent{})
	assert.Zero(t, hits)
}

func TestPublish_PanickingHandlerIsIsolated(t *testing.T) {
	b := newTestBus()
	var reported []error
	b.SetFaultHandler(func(err error) { reported = append(reported, err) })
	delivered := false
	Subscribe(b, func(pingEvent) { panic("boom") })
	Subscribe(b, func(pingEvent) { delivered = true })

	assert.NotPanics(t, func() { Publish(b, pingEvent{}) })
	assert.True(t, delivered)
	require.Len(t, reported, 1)
	assert.Equal(t, faults.CategoryBusDispatch, faults.CategoryOf(reported[0]))
	var pe *faults.PanicError
	assert.ErrorAs(t, reported[0], &pe)
	assert.Equal(t, uint64(1), b.Stats().Panics)
}

func TestFaultSink_DoesNotRecurse(t *testing.T) {
	b := newTestBus()
	sinkCalls := 0
	b.SetFaultHandler(func(err error) {
		sinkCalls++
		Publish(b, pingEvent{N: 2})
	})
	Subscribe(b, func(pingEvent) { panic("always") })

	Publish(b, pingEvent{N: 1})
	assert.Equal(t, 1, sinkCalls)
}

func TestCommand_LastRegistrationWins(t *testing.T) {
	b := newTestBus()
	var got string
	require.NoError(t, HandleCommand(b, func(c pingEvent) { got = "first" }))
	require.NoError(t, HandleCommand(b, func(c pingEvent) { got = "second" }))

	assert.True(t, Send(b, pingEvent{}))
	assert.Equal(t, "second", got)

	err := HandleCommand(b, func(pingEvent) {}, NoReplace())
	assert.ErrorIs(t, err, faults.ErrHandlerExists)

	assert.True(t, RemoveCommand[pingEvent](b))
	assert.False(t, Send(b, pingEvent{}))
	assert.False(t, b.SendAny(nil))
}

func TestQuery_MissingHandler(t *testing.T) {
	b := newTestBus()
	_, err := Request[getUser, userView](b, getUser{ID: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrNoHandler)
	assert.Equal(t, faults.CategoryBusNoHandler, faults.CategoryOf(err))
}

func TestQuery_ResultsErrorsAndPanics(t *testing.T) {
	b := newTestBus()
	errNotFound := errors.New("not found")
	require.NoError(t, HandleQuery(b, func(q getUser) (userView, error) {
		switch q.ID {
		case 0:
			return userView{}, errNotFound
		case 13:
			panic("unlucky")
		}
		return userView{Name: "ada"}, nil
	}))

	v, err := Request[getUser, userView](b, getUser{ID: 1})
	require.NoError(t, err)
	assert.Equal(t, "ada", v.Name)

	_, err = Request[getUser, userView](b, getUser{ID: 0})
	assert.ErrorIs(t, err, errNotFound)

	_, err = Request[getUser, userView](b, getUser{ID: 13})
	assert.Equal(t, faults.CategoryBusDispatch, faults.CategoryOf(err))

	err = HandleQuery(b, func(getUser) (userView, error) { return userView{}, nil }, NoReplace())
	assert.ErrorIs(t, err, faults.ErrHandlerExists)

	// A different response type is a different query.
	_, err = Request[getUser, string](b, getUser{ID: 1})
	assert.ErrorIs(t, err, faults.ErrNoHandler)

	assert.True(t, RemoveQuery[getUser, userView](b))
	assert.False(t, HasQueryHandler[getUser, userView](b))
}

func TestHandlerSet_BindIsAllOrNothing(t *testing.T) {
	b := newTestBus()
	require.NoError(t, HandleQuery(b, func(getUser) (userView, error) { return userView{}, nil }))

	set := NewHandlerSet()
	On(set, func(pingEvent) {})
	OnCommand(set, func(UserEvent) {})
	OnQuery(set, func(getUser) (userView, error) { return userView{}, nil }, NoReplace())

	err := set.Bind(b)
	assert.ErrorIs(t, err, faults.ErrHandlerExists)
	assert.False(t, set.Bound())
	assert.False(t, HasSubscribers[pingEvent](b))
	assert.False(t, HasCommandHandler[UserEvent](b))
}

func TestHandlerSet_FailedBindRestoresReplacedHandlers(t *testing.T) {
	b := newTestBus()
	original := 0
	require.NoError(t, HandleCommand(b, func(UserEvent) { original++ }))
	require.NoError(t, HandleQuery(b, func(getUser) (userView, error) { return userView{Name: "first"}, nil }))

	set := NewHandlerSet()
	OnCommand(set, func(UserEvent) { t.Fatal("replacement must not stay bound") })
	OnQuery(set, func(getUser) (string, error) { return "", nil })
	OnQuery(set, func(getUser) (userView, error) { return userView{}, nil }, NoReplace())

	require.ErrorIs(t, set.Bind(b), faults.ErrHandlerExists)
	assert.False(t, set.Bound())

	assert.True(t, HasCommandHandler[UserEvent](b))
	assert.True(t, Send(b, UserEvent{}))
	assert.Equal(t, 1, original)
	assert.False(t, HasQueryHandler[getUser, string](b))
	v, err := Request[getUser, userView](b, getUser{})
	require.NoError(t, err)
	assert.Equal(t, "first", v.Name)

	// A bind that succeeds and is later unbound leaves no handler behind.
	ok := NewHandlerSet()
	OnCommand(ok, func(UserEvent) {})
	require.NoError(t, ok.Bind(b))
	ok.Unbind()
	assert.False(t, HasCommandHandler[UserEvent](b))
}

func TestHandlerSet_BindAndUnbind(t *testing.T) {
	b := newTestBus()
	pings, cmds := 0, 0
	set := NewHandlerSet()
	On(set, func(pingEvent) { pings++ })
	OnCommand(set, func(UserEvent) { cmds++ })
	OnQuery(set, func(getUser) (userView, error) { return userView{Name: "q"}, nil })
	require.Equal(t, 3, set.Len())

	require.NoError(t, set.Bind(b))
	require.NoError(t, set.Bind(b))
	Publish(b, pingEvent{})
	Send(b, UserEvent{})
	v, err := Request[getUser, userView](b, getUser{})
	require.NoError(t, err)
	assert.Equal(t, "q", v.Name)

	set.Unbind()
	set.Unbind()
	Publish(b, pingEvent{})
	assert.False(t, Send(b, UserEvent{}))
	assert.Equal(t, 1, pings)
	assert.Equal(t, 1, cmds)
	assert.False(t, HasQueryHandler[getUser, userView](b))
}

func TestHandlerSet_UnbindKeepsReplacement(t *testing.T) {
	b := newTestBus()
	set := NewHandlerSet()
	OnCommand(set, func(pingEvent) {})
	require.NoError(t, set.Bind(b))

	got := 0
	require.NoError(t, HandleCommand(b, func(pingEvent) { got++ }))
	set.Unbind()

	assert.True(t, Send(b, pingEvent{}))
	assert.Equal(t, 1, got)
}

func TestHistory_IsBounded(t *testing.T) {
	b := New(Options{MaxCachedEvents: 3, MaxAsyncPerDrain: 1})
	for i := 0; i < 5; i++ {
		Publish(b, pingEvent{N: i})
	}
	h := HistoryOf[pingEvent](b)
	assert.Equal(t, []pingEvent{{N: 2}, {N: 3}, {N: 4}}, h)
	for _, r := range b.History() {
		assert.NotEqual(t, [16]byte{}, [16]byte(r.ID))
		assert.Contains(t, r.Type, "pingEvent")
	}
}

func TestClear_DropsEverything(t *testing.T) {
	b := newTestBus()
	calls := 0
	sub := Subscribe(b, func(pingEvent) { calls++ }, Async())
	require.NoError(t, HandleCommand(b, func(UserEvent) { calls++ }))
	Publish(b, pingEvent{})

	b.Clear()

	assert.Equal(t, 0, b.Pending())
	assert.Empty(t, b.History())
	assert.False(t, sub.Cancel())
	assert.False(t, Send(b, UserEvent{}))
	assert.Equal(t, 0, b.ProcessPending())
	assert.Zero(t, calls)
	assert.Zero(t, b.Stats().Subscriptions)
}

func TestSubscribeFiltered(t *testing.T) {
	b := newTestBus()
	var got []int
	SubscribeFiltered(b, func(e pingEvent) bool { return e.N%2 == 0 }, func(e pingEvent) { got = append(got, e.N) })
	for i := 0; i < 5; i++ {
		Publish(b, pingEvent{N: i})
	}
	assert.Equal(t, []int{0, 2, 4}, got)
}

func TestOptionsFromConfig(t *testing.T) {
	store := config.NewMemoryStore(map[string]any{
		KeyMaxCachedEvents:     "7",
		KeyMaxAsyncPerDrain:    3,
		KeyInheritanceDispatch: false,
	})
	opts := OptionsFromConfig(store)
	assert.Equal(t, Options{MaxCachedEvents: 7, MaxAsyncPerDrain: 3, InheritanceDispatch: false}, opts)
	assert.Equal(t, DefaultOptions(), OptionsFromConfig(nil))
}
