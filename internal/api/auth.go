package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// Bearer-token authentication for the wallet endpoints.
//
// The protected routes accept raw spend and scan secrets in request
// bodies, so the bar here is higher than for a read-only service: the
// token may come from API_AUTH_TOKEN or, preferred for deployments, a
// secret file named by API_AUTH_TOKEN_FILE (mounted by the orchestrator,
// never in the process environment listing). Comparison happens over
// SHA-256 digests so neither token length nor content leaks through
// timing, and the plaintext token is not retained after startup.

// loadAuthDigest resolves the configured token and returns its SHA-256
// digest, or nil when authentication is not configured.
func loadAuthDigest() []byte {
	token := os.Getenv("API_AUTH_TOKEN")
	if path := os.Getenv("API_AUTH_TOKEN_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("FATAL: cannot read API_AUTH_TOKEN_FILE %s: %v", path, err)
		}
		token = strings.TrimSpace(string(raw))
	}
	if token == "" {
		return nil
	}
	digest := sha256.Sum256([]byte(token))
	return digest[:]
}

// AuthMiddleware returns a Gin middleware guarding the secret-carrying
// wallet routes. With no token configured all requests pass (development
// mode); in GIN_MODE=release that state is loudly flagged because it
// exposes spend-key-accepting endpoints to anyone who can reach the port.
func AuthMiddleware() gin.HandlerFunc {
	digest := loadAuthDigest()

	if digest == nil && os.Getenv("GIN_MODE") == "release" {
		log.Println("[SECURITY WARNING] No API auth token configured in release mode. " +
			"The wallet endpoints accept spend keys and are publicly accessible. " +
			"Set API_AUTH_TOKEN or API_AUTH_TOKEN_FILE before exposing this service.")
	}

	return func(c *gin.Context) {
		if digest == nil {
			c.Next()
			return
		}

		presented, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok {
			status := http.StatusForbidden
			body := gin.H{"error": "Invalid Authorization header format"}
			if c.GetHeader("Authorization") == "" {
				status = http.StatusUnauthorized
				body = gin.H{
					"error": "Missing Authorization header",
					"hint":  "Use: Authorization: Bearer <token>",
				}
			}
			c.JSON(status, body)
			c.Abort()
			return
		}

		presentedDigest := sha256.Sum256([]byte(presented))
		if subtle.ConstantTimeCompare(presentedDigest[:], digest) != 1 {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
