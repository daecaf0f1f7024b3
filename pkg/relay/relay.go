package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paul/glienicke/pkg/config"
	"github.com/paul/glienicke/pkg/event"
	"github.com/paul/glienicke/pkg/nips/nip11"
	"github.com/paul/glienicke/pkg/protocol"
	"github.com/paul/glienicke/pkg/ratelimit"
	"github.com/paul/glienicke/pkg/registry"
	"github.com/paul/glienicke/pkg/storage"
)

// Version of the relay
const Version = "0.15.1"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins, per spec.md §6's NIP-11/CORS contract
	},
}

// Relay is the main relay orchestrator: it wires a storage
// collaborator, the client registry / broadcast bus, and the
// acceptance pipeline together behind an http.Handler.
type Relay struct {
	store    storage.Store
	registry *registry.Registry

	version string

	relayInfo    config.RelayInfoConfig
	subscription config.SubscriptionConfig
	rateLimit    *config.RateLimitConfig

	rateLimiters      map[string]*ratelimit.Limiter
	ipLimitersMu      sync.RWMutex
	ipConnections     map[string]int
	globalConnections int
	connMu            sync.RWMutex
}

// New creates a new relay instance.
func New(store storage.Store, cfg *config.Config) *Relay {
	return &Relay{
		store:         store,
		registry:      registry.New(),
		version:       Version,
		relayInfo:     cfg.Relay,
		subscription:  cfg.Subscription,
		rateLimit:     cfg.RateLimit,
		rateLimiters:  make(map[string]*ratelimit.Limiter),
		ipConnections: make(map[string]int),
	}
}

// ServeHTTP handles WebSocket upgrade requests and the NIP-11 relay
// information document.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Accept") == "application/nostr+json" {
		info := &nip11.RelayInformationDocument{
			Name:          r.relayInfo.Name,
			Description:   r.relayInfo.Description,
			Pubkey:        r.relayInfo.Pubkey,
			Contact:       r.relayInfo.Contact,
			Software:      r.relayInfo.Software,
			Icon:          r.relayInfo.Icon,
			Version:       r.version,
			SupportedNIPs: []int{1, 9, 11, 40, 45},
		}

		w.Header().Set("Content-Type", "application/nostr+json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		json.NewEncoder(w).Encode(info)
		return
	}

	clientIP := r.getClientIP(req)

	if !r.canAcceptConnection(clientIP) {
		log.Printf("Connection rejected for %s: connection limit exceeded", clientIP)
		http.Error(w, "Connection limit exceeded", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		http.Error(w, "WebSocket upgrade failed", http.StatusInternalServerError)
		return
	}

	client := protocol.NewClient(conn, r)

	r.addConnection(clientIP)
	r.registry.Add(client)

	defer func() {
		r.registry.Remove(client)
		r.removeConnection(clientIP)
		client.Close()
	}()

	client.Start(req.Context())
}

// HandleReq processes a REQ message: it registers the subscription
// and launches its sender and backfill tasks (spec.md §4.6).
func (r *Relay) HandleReq(ctx context.Context, c *protocol.Client, subID string, filters []*event.Filter) error {
	if !r.checkRateLimit(c.RemoteAddr(), "req") {
		c.SendClosed(subID, "rate-limited: too many requests")
		return fmt.Errorf("rate limit exceeded for requests from %s", c.RemoteAddr())
	}

	sub := c.Subscribe(subID, filters, r.subscription.QueueCapacity)

	go c.RunSubscription(sub)
	go sub.Backfill(ctx, r.store)

	return nil
}

// HandleClose processes a CLOSE message from a client
func (r *Relay) HandleClose(ctx context.Context, c *protocol.Client, subID string) error {
	c.Unsubscribe(subID)
	return nil
}

// HandleCount processes a COUNT message from a client (NIP-45)
func (r *Relay) HandleCount(ctx context.Context, c *protocol.Client, countID string, filters []*event.Filter) error {
	if !r.checkRateLimit(c.RemoteAddr(), "count") {
		c.SendClosed(countID, "rate-limited: too many count requests")
		return fmt.Errorf("rate limit exceeded for count requests from %s", c.RemoteAddr())
	}

	if len(filters) == 0 {
		c.SendClosed(countID, "error: no filters provided")
		return fmt.Errorf("COUNT request requires at least one filter")
	}

	count, err := r.store.Count(ctx, filters)
	if err != nil {
		c.SendClosed(countID, fmt.Sprintf("error: failed to count events: %v", err))
		return fmt.Errorf("failed to count events: %w", err)
	}

	return c.SendCount(countID, count, false)
}

// parseRateLimit parses rate limit string like "1000/s" or "1/minute"
func (r *Relay) parseRateLimit(rateStr string) (tokensPerSecond float64, err error) {
	if rateStr == "" {
		return 0, fmt.Errorf("empty rate limit string")
	}

	parts := strings.Split(rateStr, "/")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid rate limit format: %s", rateStr)
	}

	tokens, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token count: %s", parts[0])
	}

	unit := strings.ToLower(parts[1])
	var interval time.Duration
	switch unit {
	case "s", "sec", "second":
		interval = time.Second
	case "m", "min", "minute":
		interval = time.Minute
	case "h", "hr", "hour":
		interval = time.Hour
	default:
		return 0, fmt.Errorf("unknown time unit: %s", unit)
	}

	tokensPerSecond = tokens / interval.Seconds()
	return tokensPerSecond, nil
}

// getLimiter gets or creates a rate limiter for a specific key
func (r *Relay) getLimiter(key, rateLimit string) *ratelimit.Limiter {
	r.ipLimitersMu.Lock()
	defer r.ipLimitersMu.Unlock()

	limiter, exists := r.rateLimiters[key]
	if !exists {
		tokensPerSecond, err := r.parseRateLimit(rateLimit)
		if err != nil {
			limiter = ratelimit.New(10, 10)
		} else {
			capacity := int64(tokensPerSecond)
			if capacity == 0 {
				capacity = 1
			}
			limiter = ratelimit.New(tokensPerSecond, capacity)
		}
		r.rateLimiters[key] = limiter
	}

	return limiter
}

// checkRateLimit checks if a request should be rate limited
func (r *Relay) checkRateLimit(clientAddr, requestType string) bool {
	if r.rateLimit == nil || !r.rateLimit.Enabled {
		return true
	}

	switch requestType {
	case "event":
		limiter := r.getLimiter(clientAddr+":event", r.rateLimit.IPEventLimit)
		if !limiter.Allow() {
			return false
		}
		return r.getLimiter("global:event", r.rateLimit.GlobalEventLimit).Allow()

	case "req":
		limiter := r.getLimiter(clientAddr+":req", r.rateLimit.IPReqLimit)
		if !limiter.Allow() {
			return false
		}
		return r.getLimiter("global:req", r.rateLimit.GlobalReqLimit).Allow()

	case "count":
		limiter := r.getLimiter(clientAddr+":count", r.rateLimit.IPCountLimit)
		if !limiter.Allow() {
			return false
		}
		return r.getLimiter("global:count", r.rateLimit.GlobalCountLimit).Allow()

	default:
		return true
	}
}

// validateEventSize checks if event size is within limits
func (r *Relay) validateEventSize(evt *event.Event) bool {
	if r.rateLimit == nil {
		return true
	}
	if r.rateLimit.MaxEventSize > 0 && len(evt.Content) > r.rateLimit.MaxEventSize {
		return false
	}
	if r.rateLimit.MaxContentLength > 0 && len([]rune(evt.Content)) > r.rateLimit.MaxContentLength {
		return false
	}
	return true
}

// canAcceptConnection checks if a new connection from the given IP should be allowed
func (r *Relay) canAcceptConnection(clientAddr string) bool {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	if r.rateLimit == nil {
		return true
	}
	if r.globalConnections >= r.rateLimit.MaxGlobal {
		return false
	}
	if r.ipConnections[clientAddr] >= r.rateLimit.MaxPerIP {
		return false
	}
	return true
}

// addConnection registers a new connection
func (r *Relay) addConnection(clientAddr string) {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	r.globalConnections++
	r.ipConnections[clientAddr]++
}

// removeConnection removes a connection
func (r *Relay) removeConnection(clientAddr string) {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	r.globalConnections--
	if r.globalConnections < 0 {
		r.globalConnections = 0
	}

	r.ipConnections[clientAddr]--
	if r.ipConnections[clientAddr] <= 0 {
		delete(r.ipConnections, clientAddr)
	}
}

// getClientIP extracts the real client IP from request
func (r *Relay) getClientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xri := req.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	ip := req.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return strings.TrimSpace(ip)
}

// closer is implemented by protocol.Client; Registry.Clients returns
// the narrower registry.Client interface, so Close type-asserts back
// to it rather than widening registry.Client for every caller.
type closer interface {
	Close()
}

// Close shuts down the relay: every connected client is closed, then
// the storage collaborator.
func (r *Relay) Close() error {
	for _, c := range r.registry.Clients() {
		if cl, ok := c.(closer); ok {
			cl.Close()
		}
	}
	return r.store.Close()
}

// Start starts the relay HTTP server
func (r *Relay) Start(addr string) error {
	http.Handle("/", r)
	log.Printf("Relay starting on %s", addr)
	return http.ListenAndServe(addr, nil)
}

// StartTLS starts the relay HTTPS server with TLS certificates
func (r *Relay) StartTLS(addr, certFile, keyFile string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", r.ServeHTTP)

	log.Printf("Relay starting with TLS on %s", addr)
	log.Printf("Certificate file: %s", certFile)
	log.Printf("Private key file: %s", keyFile)

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	return server.ListenAndServeTLS(certFile, keyFile)
}
