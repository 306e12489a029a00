package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hermes-engine/hermes/internal/event"
)

func newTestAppState(name string) *AppState {
	return &AppState{Name: name, subscriptions: make(map[string][]subscription)}
}

func TestSubscribeMatchesEmptyFilterAgainstAnyEvent(t *testing.T) {
	a := newTestAppState("app")
	a.Subscribe("ipfs", "", "echo")

	assert.Equal(t, []string{"echo"}, a.subscribersFor("ipfs", "topic-a"))
	assert.Equal(t, []string{"echo"}, a.subscribersFor("ipfs", "topic-b"))
}

func TestSubscribeWithFilterOnlyMatchesThatFilter(t *testing.T) {
	a := newTestAppState("app")
	a.Subscribe("ipfs", "topic-a", "echo")

	assert.Equal(t, []string{"echo"}, a.subscribersFor("ipfs", "topic-a"))
	assert.Empty(t, a.subscribersFor("ipfs", "topic-b"))
}

func TestUnsubscribeRemovesOnlyMatchingEntry(t *testing.T) {
	a := newTestAppState("app")
	a.Subscribe("ipfs", "topic-a", "echo")
	a.Subscribe("ipfs", "topic-b", "echo")

	a.Unsubscribe("ipfs", "topic-a", "echo")

	assert.Empty(t, a.subscribersFor("ipfs", "topic-a"))
	assert.Equal(t, []string{"echo"}, a.subscribersFor("ipfs", "topic-b"))
}

func TestSubscribersForHonorsTargetAppNames(t *testing.T) {
	r := &Registry{apps: map[string]*AppState{}, byHost: map[string]string{}}

	a1 := newTestAppState("app1")
	a1.Subscribe("http", "", "mod1")
	a2 := newTestAppState("app2")
	a2.Subscribe("http", "", "mod2")
	r.apps["app1"] = a1
	r.apps["app2"] = a2

	targets := r.SubscribersFor(event.SourceHTTP, "", event.Target{AppNames: []string{"app1"}})
	assert.Equal(t, []Target{{AppName: "app1", ModuleID: "mod1"}}, targets)
}

func TestSubscribersForAllBroadcastsToEveryApp(t *testing.T) {
	r := &Registry{apps: map[string]*AppState{}, byHost: map[string]string{}}

	a1 := newTestAppState("app1")
	a1.Subscribe("cron", "tag", "mod1")
	a2 := newTestAppState("app2")
	a2.Subscribe("cron", "tag", "mod2")
	r.apps["app1"] = a1
	r.apps["app2"] = a2

	targets := r.SubscribersFor(event.CronSource("tag"), "tag", event.Target{All: true})
	assert.Len(t, targets, 2)
}

func TestSubscribedReflectsLiveStateAfterUnsubscribe(t *testing.T) {
	r := &Registry{apps: map[string]*AppState{}, byHost: map[string]string{}}

	a := newTestAppState("app1")
	a.Subscribe("cron", "tag", "mod1")
	r.apps["app1"] = a

	assert.True(t, r.Subscribed("app1", "mod1", event.CronSource("tag"), "tag"))

	a.Unsubscribe("cron", "tag", "mod1")

	assert.False(t, r.Subscribed("app1", "mod1", event.CronSource("tag"), "tag"))
}

func TestSubscribedReturnsFalseForUnknownApp(t *testing.T) {
	r := &Registry{apps: map[string]*AppState{}, byHost: map[string]string{}}
	assert.False(t, r.Subscribed("ghost", "mod1", event.CronSource("tag"), "tag"))
}
