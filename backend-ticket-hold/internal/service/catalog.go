package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prohmpiriya/booking-rush-10k-rps/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// ErrTicketDefinitionNotFound is returned by a catalog for an unknown id
var ErrTicketDefinitionNotFound = errors.New("ticket definition not found")

// TicketCatalog resolves ticket definitions owned by the ticket service
type TicketCatalog interface {
	// OriginalPrice returns the list price of a ticket definition in cents
	OriginalPrice(ctx context.Context, ticketDefinitionID int64) (int64, error)

	// Exists reports whether the ticket definition is known
	Exists(ctx context.Context, ticketDefinitionID int64) (bool, error)
}

// TicketDefinition is the catalog's view of a ticket definition
type TicketDefinition struct {
	ID         int64 `json:"id"`
	PriceCents int64 `json:"price_cents"`
}

type catalogEntry struct {
	def       *TicketDefinition
	found     bool
	expiresAt time.Time
}

// HTTPTicketCatalog fetches ticket definitions from the ticket service.
// Results, including misses, are cached for ttl and concurrent lookups of
// the same id share one request.
type HTTPTicketCatalog struct {
	baseURL    string
	httpClient *http.Client
	ttl        time.Duration

	sfGroup singleflight.Group
	mu      sync.RWMutex
	cache   map[int64]catalogEntry
}

// NewHTTPTicketCatalog creates a new HTTP ticket catalog
func NewHTTPTicketCatalog(ticketServiceURL string, timeout, ttl time.Duration) *HTTPTicketCatalog {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPTicketCatalog{
		baseURL: ticketServiceURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		ttl:   ttl,
		cache: make(map[int64]catalogEntry),
	}
}

// OriginalPrice returns the list price of a ticket definition
func (c *HTTPTicketCatalog) OriginalPrice(ctx context.Context, ticketDefinitionID int64) (int64, error) {
	def, found, err := c.lookup(ctx, ticketDefinitionID)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: %d", ErrTicketDefinitionNotFound, ticketDefinitionID)
	}
	return def.PriceCents, nil
}

// Exists reports whether the ticket service knows the definition
func (c *HTTPTicketCatalog) Exists(ctx context.Context, ticketDefinitionID int64) (bool, error) {
	_, found, err := c.lookup(ctx, ticketDefinitionID)
	return found, err
}

func (c *HTTPTicketCatalog) lookup(ctx context.Context, id int64) (*TicketDefinition, bool, error) {
	if e, ok := c.cached(id); ok {
		return e.def, e.found, nil
	}

	v, err, _ := c.sfGroup.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		def, found, err := c.fetch(ctx, id)
		if err != nil {
			return nil, err
		}
		e := catalogEntry{def: def, found: found, expiresAt: time.Now().Add(c.ttl)}
		if c.ttl > 0 {
			c.mu.Lock()
			c.cache[id] = e
			c.mu.Unlock()
		}
		return e, nil
	})
	if err != nil {
		return nil, false, err
	}
	e := v.(catalogEntry)
	return e.def, e.found, nil
}

func (c *HTTPTicketCatalog) cached(id int64) (catalogEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[id]
	if !ok || time.Now().After(e.expiresAt) {
		return catalogEntry{}, false
	}
	return e, true
}

func (c *HTTPTicketCatalog) fetch(ctx context.Context, id int64) (*TicketDefinition, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "client.ticket_catalog.fetch")
	defer span.End()
	span.SetAttributes(attribute.Int64("ticket_definition_id", id))

	url := fmt.Sprintf("%s/api/v1/ticket-definitions/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, false, fmt.Errorf("failed to fetch ticket definition: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	// ticket service returns { success: true, data: TicketDefinition }
	var response struct {
		Success bool             `json:"success"`
		Data    TicketDefinition `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, false, fmt.Errorf("failed to decode response: %w", err)
	}
	if !response.Success {
		return nil, false, fmt.Errorf("API returned unsuccessful response")
	}
	if response.Data.ID == 0 {
		response.Data.ID = id
	}
	return &response.Data, true, nil
}

// StaticTicketCatalog serves prices from memory; used in development and tests
type StaticTicketCatalog struct {
	mu     sync.RWMutex
	prices map[int64]int64
}

// NewStaticTicketCatalog creates a catalog from a definition id to price map
func NewStaticTicketCatalog(prices map[int64]int64) *StaticTicketCatalog {
	cp := make(map[int64]int64, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticTicketCatalog{prices: cp}
}

// Set adds or replaces a price
func (c *StaticTicketCatalog) Set(ticketDefinitionID, priceCents int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[ticketDefinitionID] = priceCents
}

func (c *StaticTicketCatalog) OriginalPrice(ctx context.Context, ticketDefinitionID int64) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[ticketDefinitionID]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrTicketDefinitionNotFound, ticketDefinitionID)
	}
	return p, nil
}

func (c *StaticTicketCatalog) Exists(ctx context.Context, ticketDefinitionID int64) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.prices[ticketDefinitionID]
	return ok, nil
}
