package api

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/rawblock/veil-light-engine/internal/db"
	"github.com/rawblock/veil-light-engine/internal/veild"
)

// APIHandler wires the engine's subsystems into the HTTP surface.
type APIHandler struct {
	dbStore    *db.PostgresStore
	veilClient *veild.Client
	wsHub      *Hub
	progress   *progressTracker
}

// SetupRouter builds the Gin engine: CORS, bearer auth and rate limiting
// on mutating endpoints, the wallet API and the WebSocket stream.
func SetupRouter(dbStore *db.PostgresStore, veilClient *veild.Client, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	// Enable CORS — configurable via ALLOWED_ORIGINS env var
	// Production: ALLOWED_ORIGINS=https://wallet.example.org
	// Development: leave empty for *
	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	h := &APIHandler{dbStore: dbStore, veilClient: veilClient, wsHub: wsHub, progress: newProgressTracker()}

	// Public endpoints: no secrets in, nothing worth brute-forcing out.
	r.GET("/ws", wsHub.Subscribe)
	r.GET("/api/address/validate", h.handleValidateAddress)
	r.GET("/api/node/status", h.handleNodeStatus)
	r.GET("/api/scan/progress", h.handleScanProgress)
	r.GET("/api/tx/:txid", h.handleDescribeTx)

	// Protected endpoints carry secrets in request bodies: bearer auth
	// plus the cost-weighted rate limit — scan-driving routes draw five
	// tokens, local key operations one.
	limiter := NewLimiter(60, 20)
	protected := r.Group("/api", AuthMiddleware())
	{
		protected.POST("/wallet", limiter.Require(CostLight), h.handleCreateWallet)
		protected.POST("/wallet/restore", limiter.Require(CostLight), h.handleRestoreWallet)
		protected.POST("/wallet/import", limiter.Require(CostScan), h.handleImportWallet)
		protected.POST("/balance", limiter.Require(CostScan), h.handleBalance)
		protected.POST("/send", limiter.Require(CostScan), h.handleSend)
	}

	return r
}
