package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvents_DeliveredInOrder(t *testing.T) {
	events := &Events{}
	ch := make(chan PaymentEvent, 3)
	sub := events.Subscribe(ch)
	defer sub.Unsubscribe()

	events.send(PaymentEvent{Type: PaymentEventAttempt})
	events.send(PaymentEvent{Type: PaymentEventFailure})
	events.send(PaymentEvent{Type: PaymentEventSuccess})

	assert.Equal(t, PaymentEventAttempt, (<-ch).Type)
	assert.Equal(t, PaymentEventFailure, (<-ch).Type)
	assert.Equal(t, PaymentEventSuccess, (<-ch).Type)
	assert.Zero(t, events.Dropped())
}

func TestEvents_FullQueueDrops(t *testing.T) {
	events := &Events{}
	stalled := make(chan PaymentEvent)
	sub := events.Subscribe(stalled)
	defer sub.Unsubscribe()

	for i := 0; i < eventQueueSize+2; i++ {
		events.send(PaymentEvent{Type: PaymentEventAttempt})
	}
	assert.NotZero(t, events.Dropped())
}

func TestEvents_NilIsSafe(t *testing.T) {
	var events *Events
	assert.NotPanics(t, func() { events.send(PaymentEvent{}) })
}

func TestTransport_StalledSubscriberDoesNotBlockPayment(t *testing.T) {
	ds := &demandingServer{}
	srv := httptest.NewServer(ds.handler(demandToken(t, "1000"), false))
	defer srv.Close()

	events := &Events{}
	stalled := make(chan PaymentEvent)
	sub := events.Subscribe(stalled)
	defer sub.Unsubscribe()

	payer := &stubPayer{}
	client := &http.Client{Transport: &Transport{Payer: payer, MaxAmount: "1000", Events: events}}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, ds.count())
	calls, _ := payer.counts()
	assert.Equal(t, 1, calls)
}
