package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/dispatch"
	"github.com/GriffinCanCode/AgentOS/diplomacy/internal/domain/envoy"
)

// BridgeSource exposes read-only bridge state.
type BridgeSource interface {
	Stats() envoy.Stats
	Version() string
}

// LoanSource lists buffers currently owned by the caller.
type LoanSource interface {
	Outstanding() []envoy.Loan
}

// DispatchSource exposes dispatcher counters.
type DispatchSource interface {
	Stats() dispatch.Stats
}

// Handlers contains all admin HTTP handlers
type Handlers struct {
	bridge     BridgeSource
	loans      func() LoanSource
	dispatcher DispatchSource
	started    time.Time
}

// NewHandlers creates a handler set. dispatcher may be nil when the library
// runs without a managed-side consumer.
func NewHandlers(bridge *envoy.Bridge, dispatcher DispatchSource) *Handlers {
	return &Handlers{
		bridge: bridge,
		loans: func() LoanSource {
			if reg := bridge.Registry(); reg != nil {
				return reg.Loans
			}
			return nil
		},
		dispatcher: dispatcher,
		started:    time.Now(),
	}
}

// Register attaches the admin routes to r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
	r.GET("/loans", h.Loans)
	r.GET("/statuses", h.Statuses)
	r.GET("/dispatch", h.Dispatch)
}

// Root identifies the service
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "diplomacy",
		"version": h.bridge.Version(),
	})
}

// Health reports whether the registry has been published
func (h *Handlers) Health(c *gin.Context) {
	stats := h.bridge.Stats()
	status := "healthy"
	code := http.StatusOK
	if !stats.Initialized {
		status = "uninitialized"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":      status,
		"registry_id": stats.RegistryID,
		"uptime":      time.Since(h.started).Round(time.Second).String(),
	})
}

// Stats returns the bridge snapshot
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.bridge.Stats())
}

// loanView is the JSON form of an outstanding loan.
type loanView struct {
	Handle    string        `json:"handle"`
	MessageID uint32        `json:"envoy_id"`
	Size      int           `json:"size"`
	IssuedAt  time.Time     `json:"issued_at"`
	Age       time.Duration `json:"age_ns"`
}

// Loans lists buffers the caller has not released yet, oldest first
func (h *Handlers) Loans(c *gin.Context) {
	src := h.loans()
	if src == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": envoy.ErrNotInitialized.Error()})
		return
	}
	now := time.Now()
	loans := src.Outstanding()
	views := make([]loanView, 0, len(loans))
	for _, l := range loans {
		v := loanView{
			Handle:    l.Handle.String(),
			MessageID: l.MessageID,
			IssuedAt:  l.IssuedAt,
			Age:       now.Sub(l.IssuedAt),
		}
		if l.Buffer != nil {
			v.Size = l.Buffer.Len()
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(views), "loans": views})
}

// statusView is one row of the status code table.
type statusView struct {
	Code        int32  `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Statuses returns the status code table shared with native callers
func (h *Handlers) Statuses(c *gin.Context) {
	all := envoy.Statuses()
	out := make([]statusView, 0, len(all))
	for _, s := range all {
		out = append(out, statusView{Code: int32(s), Name: s.String(), Description: s.Description()})
	}
	c.JSON(http.StatusOK, out)
}

// Dispatch returns dispatcher counters
func (h *Handlers) Dispatch(c *gin.Context) {
	if h.dispatcher == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dispatcher not running"})
		return
	}
	c.JSON(http.StatusOK, h.dispatcher.Stats())
}
