package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/classloop/portal-go/pkg/cache"
	"github.com/classloop/portal-go/pkg/transport"
)

// listWrapper is the cached form of one listing page: the raw item array plus
// its pagination metadata, so a cache hit restores both.
type listWrapper struct {
	Items      json.RawMessage       `json:"items"`
	Pagination *transport.Pagination `json:"pagination,omitempty"`
}

// fetchList reads a listing through the cache, hitting the backend only on a
// miss. Cached payloads are idempotent snapshots of the response data.
func fetchList[T any](
	ctx context.Context,
	dataCache *cache.Cache,
	api *transport.Client,
	entity cache.Entity,
	params cache.Params,
	path string,
	query url.Values,
) ([]T, *transport.Pagination, error) {
	payload, err := dataCache.GetOrFetch(ctx, entity, params, func(ctx context.Context) (json.RawMessage, error) {
		env, err := api.Get(ctx, path, query)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(listWrapper{Items: env.Data, Pagination: env.Pagination})
		if err != nil {
			return nil, fmt.Errorf("failed to encode listing for caching: %w", err)
		}
		return raw, nil
	})
	if err != nil {
		return nil, nil, err
	}

	var wrapper listWrapper
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil, nil, fmt.Errorf("failed to decode cached listing: %w", err)
	}
	var items []T
	if len(wrapper.Items) > 0 {
		if err := json.Unmarshal(wrapper.Items, &items); err != nil {
			return nil, nil, fmt.Errorf("failed to decode listing items: %w", err)
		}
	}
	return items, wrapper.Pagination, nil
}

// decodeOne decodes a single record out of a response envelope.
func decodeOne[T any](env *transport.Envelope) (*T, error) {
	var record T
	if err := json.Unmarshal(env.Data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &record, nil
}
