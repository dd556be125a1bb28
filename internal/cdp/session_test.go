package cdp_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cdpqa/internal/cdp"
	"cdpqa/internal/cdp/cdptest"
)

func TestCreatePageSessionStampsSessionID(t *testing.T) {
	srv := cdptest.NewServer()
	defer srv.Close()
	srv.Handle("Page.enable", func(cdptest.Request) (any, *cdp.Error) { return nil, nil })
	conn := dial(t, srv)
	ctx := context.Background()

	s1, err := cdp.CreatePageSession(ctx, conn, "about:blank")
	require.NoError(t, err)
	s2, err := cdp.CreatePageSession(ctx, conn, "")
	require.NoError(t, err)
	assert.NotEqual(t, s1.ID, s2.ID)

	require.NoError(t, s1.Call(ctx, "Page.enable", nil, nil))
	require.NoError(t, s2.Call(ctx, "Page.enable", nil, nil))
	require.NoError(t, conn.Call(ctx, "Page.enable", nil, nil))

	var stamped []string
	for _, r := range srv.Requests() {
		switch r.Method {
		case "Target.createTarget":
			assert.Empty(t, r.SessionID)
		case "Page.enable":
			stamped = append(stamped, r.SessionID)
		}
	}
	assert.Equal(t, []string{s1.ID, s2.ID, ""}, stamped)
}

func TestEventsDemultiplexedBySession(t *testing.T) {
	srv := cdptest.NewServer()
	defer srv.Close()
	conn := dial(t, srv)
	ctx := context.Background()

	s1, err := cdp.CreatePageSession(ctx, conn, "")
	require.NoError(t, err)
	s2, err := cdp.CreatePageSession(ctx, conn, "")
	require.NoError(t, err)

	sub1 := s1.Subscribe("Runtime.consoleAPICalled")
	defer sub1.Close()
	sub2 := s2.Subscribe()
	defer sub2.Close()
	browser := conn.Subscribe("Target.targetCreated")
	defer browser.Close()

	srv.Emit("Runtime.consoleAPICalled", s2.ID, map[string]string{"type": "log"})
	srv.Emit("Network.requestWillBeSent", s1.ID, map[string]string{"requestId": "1"})
	srv.Emit("Runtime.consoleAPICalled", s1.ID, map[string]string{"type": "warning"})
	srv.Emit("Target.targetCreated", "", map[string]string{})

	select {
	case ev := <-sub1.Events():
		assert.Equal(t, s1.ID, ev.SessionID)
		assert.JSONEq(t, `{"type":"warning"}`, string(ev.Params))
	case <-time.After(2 * time.Second):
		t.Fatal("no event for session 1")
	}
	select {
	case ev := <-sub2.Events():
		assert.Equal(t, "Runtime.consoleAPICalled", ev.Method)
		assert.Equal(t, s2.ID, ev.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event for session 2")
	}
	select {
	case ev := <-browser.Events():
		assert.Equal(t, "Target.targetCreated", ev.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("no browser-level event")
	}
	select {
	case ev := <-sub1.Events():
		t.Fatalf("unexpected event leaked into session 1: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscriptionsCloseWithConnection(t *testing.T) {
	srv := cdptest.NewServer()
	defer srv.Close()
	conn := dial(t, srv)
	sub := conn.Subscribe()

	srv.DropConnections()
	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
	assert.NotPanics(t, sub.Close)

	late := conn.Subscribe()
	_, ok := <-late.Events()
	assert.False(t, ok)
}
