package msh

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegAddressResolver(t *testing.T) {
	ctx := context.Background()
	pm := pushPMode("push")

	url, err := LegAddressResolver{}.ResolveEndpoint(ctx, EndpointRequest{PMode: pm, Leg: 1})
	require.NoError(t, err)
	assert.Equal(t, receiverURL, url)

	_, err = LegAddressResolver{}.ResolveEndpoint(ctx, EndpointRequest{PMode: pm, Leg: 2})
	assert.ErrorIs(t, err, ErrEndpointNotFound)

	_, err = LegAddressResolver{}.ResolveEndpoint(ctx, EndpointRequest{Leg: 1})
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestStaticEndpointResolver(t *testing.T) {
	resolver := NewStaticEndpointResolver()
	require.NoError(t, resolver.RegisterEndpoint("party-123", "https://example.com/as4"))
	assert.ErrorIs(t, resolver.RegisterEndpoint(" ", "https://example.com/as4"), ErrInvalidPartyID)

	ctx := context.Background()
	url, err := resolver.ResolveEndpoint(ctx, EndpointRequest{PartyID: "party-123", Service: "svc"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/as4", url)

	// Test non-existent endpoint
	_, err = resolver.ResolveEndpoint(ctx, EndpointRequest{PartyID: "unknown"})
	assert.ErrorIs(t, err, ErrEndpointNotFound)

	resolver.InvalidateCache("party-123")
	_, err = resolver.ResolveEndpoint(ctx, EndpointRequest{PartyID: "party-123"})
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestDynamicEndpointResolver(t *testing.T) {
	calls := 0
	resolver := NewDynamicEndpointResolver(func(_ context.Context, req EndpointRequest) (string, error) {
		calls++
		return fmt.Sprintf("https://dynamic-%d.example.com/as4", calls), nil
	}, time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	resolver.now = func() time.Time { return now }

	ctx := context.Background()
	req := EndpointRequest{PartyID: "party-456", Service: "svc", Action: "act"}

	url, err := resolver.ResolveEndpoint(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "https://dynamic-1.example.com/as4", url)

	// Second call should use cache
	url, err = resolver.ResolveEndpoint(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "https://dynamic-1.example.com/as4", url)
	assert.Equal(t, 1, calls)

	// other actions are looked up separately
	_, err = resolver.ResolveEndpoint(ctx, EndpointRequest{PartyID: "party-456", Service: "svc", Action: "other"})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	now = now.Add(2 * time.Minute)
	url, err = resolver.ResolveEndpoint(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "https://dynamic-3.example.com/as4", url, "expired entries are looked up again")

	resolver.InvalidateCache("party-456")
	url, err = resolver.ResolveEndpoint(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "https://dynamic-4.example.com/as4", url)
}

func TestDynamicEndpointResolver_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := NewDynamicEndpointResolver(nil, time.Minute).ResolveEndpoint(ctx, EndpointRequest{PartyID: "p"})
	assert.ErrorIs(t, err, ErrEndpointNotFound)

	lookupErr := errors.New("directory unavailable")
	calls := 0
	resolver := NewDynamicEndpointResolver(func(context.Context, EndpointRequest) (string, error) {
		calls++
		return "", lookupErr
	}, time.Minute)
	for i := 0; i < 2; i++ {
		_, err = resolver.ResolveEndpoint(ctx, EndpointRequest{PartyID: "p"})
		assert.ErrorIs(t, err, lookupErr)
	}
	assert.Equal(t, 2, calls, "failures are not cached")
}

func TestMultiResolver(t *testing.T) {
	static := NewStaticEndpointResolver()
	require.NoError(t, static.RegisterEndpoint("party-static", "https://static.example.com/as4"))

	dynamic := NewDynamicEndpointResolver(func(_ context.Context, req EndpointRequest) (string, error) {
		if req.PartyID == "party-dynamic" {
			return "https://dynamic.example.com/as4", nil
		}
		return "", ErrEndpointNotFound
	}, time.Minute)

	resolver := NewMultiResolver(static, dynamic)
	ctx := context.Background()

	url, err := resolver.ResolveEndpoint(ctx, EndpointRequest{PartyID: "party-static"})
	require.NoError(t, err)
	assert.Equal(t, "https://static.example.com/as4", url)

	url, err = resolver.ResolveEndpoint(ctx, EndpointRequest{PartyID: "party-dynamic"})
	require.NoError(t, err)
	assert.Equal(t, "https://dynamic.example.com/as4", url)

	_, err = resolver.ResolveEndpoint(ctx, EndpointRequest{PartyID: "unknown"})
	assert.ErrorIs(t, err, ErrEndpointNotFound)
}

func TestEngine_SendUsesConfiguredResolver(t *testing.T) {
	pm := pushPMode("push")
	pm.Leg1.Protocol.Address = ""

	static := NewStaticEndpointResolver()
	require.NoError(t, static.RegisterEndpoint("receiver", receiverURL))

	net := newNetwork()
	got := &recorder{}
	receiver := newEngine(t, net, got, nil, pm)
	net.register(receiverURL, receiver)

	resolver := pmodeResolver(t, pm)
	sender, err := New(Config{PModes: resolver, Transport: net, Endpoints: static, Logger: testLogger()})
	require.NoError(t, err)
	defer sender.Close()

	d, err := sender.Send(context.Background(), &Outbound{PModeID: "push", Payloads: invoice()})
	require.NoError(t, err)
	assert.Equal(t, receiverURL, d.Endpoint)
	wait(t, d)
	assert.Len(t, got.userMessages(), 1)
}
