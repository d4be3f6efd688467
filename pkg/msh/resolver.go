package msh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirosfoundation/go-ebms/pkg/pmode"
)

var (
	// ErrEndpointNotFound is returned when no endpoint can be resolved
	ErrEndpointNotFound = errors.New("endpoint not found")
	// ErrInvalidPartyID is returned for invalid party identifiers
	ErrInvalidPartyID = errors.New("invalid party ID")
)

// EndpointRequest describes the message an endpoint is needed for
type EndpointRequest struct {
	PMode   *pmode.PMode
	Leg     int
	PartyID string
	Service string
	Action  string
}

// EndpointResolver resolves the receiving MSH's URL for a message.
// Static point-to-point setups use the PMode leg address or a party map;
// dynamic discovery plugs in through DynamicEndpointResolver.
type EndpointResolver interface {
	ResolveEndpoint(ctx context.Context, req EndpointRequest) (string, error)
}

// LegAddressResolver returns the protocol address of the PMode leg
type LegAddressResolver struct{}

// ResolveEndpoint implements EndpointResolver
func (LegAddressResolver) ResolveEndpoint(_ context.Context, req EndpointRequest) (string, error) {
	if req.PMode != nil {
		if leg := req.PMode.Leg(req.Leg); leg != nil && leg.Protocol != nil && leg.Protocol.Address != "" {
			return leg.Protocol.Address, nil
		}
	}
	return "", fmt.Errorf("%w: no address on leg %d", ErrEndpointNotFound, req.Leg)
}

// StaticEndpointResolver maps party IDs to fixed endpoints
type StaticEndpointResolver struct {
	mu        sync.RWMutex
	endpoints map[string]string
}

// NewStaticEndpointResolver creates a new static resolver
func NewStaticEndpointResolver() *StaticEndpointResolver {
	return &StaticEndpointResolver{
		endpoints: make(map[string]string),
	}
}

// RegisterEndpoint registers a static endpoint mapping
func (r *StaticEndpointResolver) RegisterEndpoint(partyID, url string) error {
	if strings.TrimSpace(partyID) == "" {
		return ErrInvalidPartyID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endpoints[partyID] = url
	return nil
}

// InvalidateCache removes the mapping of partyID
func (r *StaticEndpointResolver) InvalidateCache(partyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.endpoints, partyID)
}

// ResolveEndpoint implements EndpointResolver
func (r *StaticEndpointResolver) ResolveEndpoint(_ context.Context, req EndpointRequest) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	url, ok := r.endpoints[req.PartyID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrEndpointNotFound, req.PartyID)
	}
	return url, nil
}

// EndpointLookupFunc performs a dynamic lookup, for example against a
// capability directory
type EndpointLookupFunc func(ctx context.Context, req EndpointRequest) (string, error)

// DynamicEndpointResolver caches the results of a lookup function
type DynamicEndpointResolver struct {
	mu     sync.RWMutex
	cache  map[endpointKey]cachedEndpoint
	lookup EndpointLookupFunc
	ttl    time.Duration
	now    func() time.Time
}

type cachedEndpoint struct {
	url       string
	expiresAt time.Time
}

// NewDynamicEndpointResolver creates a resolver that caches lookups for ttl
func NewDynamicEndpointResolver(lookup EndpointLookupFunc, ttl time.Duration) *DynamicEndpointResolver {
	return &DynamicEndpointResolver{
		cache:  make(map[endpointKey]cachedEndpoint),
		lookup: lookup,
		ttl:    ttl,
		now:    time.Now,
	}
}

type endpointKey struct {
	partyID, service, action string
}

func cacheKey(req EndpointRequest) endpointKey {
	return endpointKey{partyID: req.PartyID, service: req.Service, action: req.Action}
}

// ResolveEndpoint implements EndpointResolver
func (r *DynamicEndpointResolver) ResolveEndpoint(ctx context.Context, req EndpointRequest) (string, error) {
	key := cacheKey(req)

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && r.now().Before(cached.expiresAt) {
		return cached.url, nil
	}

	if r.lookup == nil {
		return "", fmt.Errorf("%w: no lookup function configured", ErrEndpointNotFound)
	}
	url, err := r.lookup(ctx, req)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	r.cache[key] = cachedEndpoint{url: url, expiresAt: r.now().Add(r.ttl)}
	r.mu.Unlock()
	return url, nil
}

// InvalidateCache drops every cached endpoint of partyID
func (r *DynamicEndpointResolver) InvalidateCache(partyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.cache {
		if key.partyID == partyID {
			delete(r.cache, key)
		}
	}
}

// MultiResolver tries resolvers in order and returns the first endpoint found
type MultiResolver struct {
	resolvers []EndpointResolver
}

// NewMultiResolver creates a resolver that tries multiple resolvers in order
func NewMultiResolver(resolvers ...EndpointResolver) *MultiResolver {
	return &MultiResolver{resolvers: resolvers}
}

// ResolveEndpoint implements EndpointResolver
func (r *MultiResolver) ResolveEndpoint(ctx context.Context, req EndpointRequest) (string, error) {
	var errs []error
	for _, resolver := range r.resolvers {
		url, err := resolver.ResolveEndpoint(ctx, req)
		if err == nil {
			return url, nil
		}
		errs = append(errs, err)
	}
	return "", fmt.Errorf("%w: %s (tried %d resolvers): %w", ErrEndpointNotFound, req.PartyID, len(r.resolvers), errors.Join(errs...))
}
