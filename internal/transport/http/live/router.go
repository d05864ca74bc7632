package livehttp

import (
	"net/http"
	"strconv"
	"strings"

	"helmsman/internal/store"

	"github.com/gin-gonic/gin"
)

const defaultTradeLimit = 50

// Router 注册 /api 下的查询接口。
type Router struct {
	store      store.StateStore
	symbols    []string
	configYAML []byte
}

func NewRouter(st store.StateStore, symbols []string, configYAML []byte) *Router {
	return &Router{store: st, symbols: symbols, configYAML: configYAML}
}

func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/state", r.handleStateAll)
	group.GET("/state/:symbol", r.handleState)
	group.GET("/trades/:symbol", r.handleTrades)
	group.GET("/config", r.handleConfig)
}

type stateResponse struct {
	Symbol     string  `json:"symbol"`
	Balance    float64 `json:"balance"`
	Position   float64 `json:"position"`
	EntryPrice float64 `json:"entry_price"`
	Wins       int     `json:"wins"`
	Losses     int     `json:"losses"`
	UpdatedAt  string  `json:"updated_at"`
}

func toStateResponse(snap store.Snapshot) stateResponse {
	return stateResponse{
		Symbol:     snap.Symbol,
		Balance:    snap.Balance,
		Position:   snap.Position,
		EntryPrice: snap.EntryPrice,
		Wins:       snap.Wins,
		Losses:     snap.Losses,
		UpdatedAt:  snap.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func (r *Router) handleStateAll(c *gin.Context) {
	out := make([]stateResponse, 0, len(r.symbols))
	for _, sym := range r.symbols {
		snap, ok, err := r.store.LoadState(c.Request.Context(), sym)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if !ok {
			continue
		}
		out = append(out, toStateResponse(snap))
	}
	c.JSON(http.StatusOK, gin.H{"states": out})
}

func (r *Router) handleState(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	snap, ok, err := r.store.LoadState(c.Request.Context(), symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no state for " + symbol})
		return
	}
	c.JSON(http.StatusOK, toStateResponse(snap))
}

func (r *Router) handleTrades(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}
	limit := defaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	trades, err := r.store.RecentTrades(c.Request.Context(), symbol, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "trades": trades})
}

func (r *Router) handleConfig(c *gin.Context) {
	if len(r.configYAML) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "config snapshot unavailable"})
		return
	}
	c.Data(http.StatusOK, "text/yaml; charset=utf-8", r.configYAML)
}
