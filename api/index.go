package handler

import (
	"net/http"
	"os"

	"github.com/arnavshah/shelter-api-go/internal/app"
	"github.com/arnavshah/shelter-api-go/internal/logging"
	"github.com/arnavshah/shelter-api-go/pkg/config"
	"github.com/gin-gonic/gin"
)

var r http.Handler

func init() {
	// Load .env if it exists (for local testing with vercel dev)
	config.LoadDotEnv()

	logger := logging.New(os.Stdout, "json", os.Getenv("LOG_LEVEL"))
	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		r = unavailable(err)
		return
	}

	// Serverless instances do not keep a background rebalancer
	cfg.RebalanceInterval = 0

	gin.SetMode(gin.ReleaseMode)
	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		r = unavailable(err)
		return
	}
	r = a.Router()
}

func unavailable(err error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "service unavailable: "+err.Error(), http.StatusServiceUnavailable)
	})
}

// Handler is the entry point for Vercel Go Runtime
func Handler(w http.ResponseWriter, req *http.Request) {
	r.ServeHTTP(w, req)
}
