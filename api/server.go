package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/banachtech/volsurface/data"
	"github.com/banachtech/volsurface/db"
	"github.com/banachtech/volsurface/marketdata"
	"github.com/banachtech/volsurface/service"
	"github.com/banachtech/volsurface/ssvi"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server serves HTTP requests for the volatility surface service.
type Server struct {
	calibrator *service.Calibrator
	apiKeyHash string
	logger     *logrus.Logger
	limiters   *clientLimiters
	router     *gin.Engine
}

// NewServer creates a new HTTP server and sets up routing. An empty
// apiKeyHash leaves the API open.
func NewServer(calibrator *service.Calibrator, apiKeyHash string, logger *logrus.Logger) *Server {
	server := &Server{
		calibrator: calibrator,
		apiKeyHash: apiKeyHash,
		logger:     logger,
		limiters:   newClientLimiters(fitRate, fitBurst),
	}

	server.setupRouter()
	return server
}

func (server *Server) setupRouter() {
	router := gin.New()
	router.Use(gin.Recovery(), server.requestLogger)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	routes := router.Group("/api")
	if server.apiKeyHash != "" {
		routes.Use(server.authentication)
	}
	routes.GET("/chain", server.chain)
	routes.GET("/ssvi", server.ssviValue)

	fits := routes.Group("", server.rateLimit)
	fits.GET("/theta", server.theta)
	fits.GET("/slices", server.slices)
	fits.GET("/oneslice", server.oneSlice)
	fits.GET("/allslices", server.allSlices)
	fits.GET("/surface", server.surface)
	server.router = router
}

// Start runs the HTTP server on a specific address.
func (server *Server) Start(address string) error {
	return server.router.Run(address)
}

// Handler exposes the router for embedding in an http.Server.
func (server *Server) Handler() http.Handler {
	return server.router
}

func (server *Server) requestLogger(c *gin.Context) {
	start := time.Now()
	c.Next()
	server.logger.WithFields(logrus.Fields{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"elapsed": time.Since(start).String(),
	}).Debug("Handled request")
}

func errorResponse(err error) gin.H {
	return gin.H{"error": err.Error()}
}

// nginx convention for a request the client abandoned
const statusClientClosedRequest = 499

// statusFor maps calibration and provider errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrSnapshotNotFound), errors.Is(err, service.ErrExpiryNotFound):
		return http.StatusNotFound
	case errors.Is(err, marketdata.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, data.ErrData), errors.Is(err, ssvi.ErrInsufficientData), errors.Is(err, ssvi.ErrDegenerateSurface):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ssvi.ErrCalibrationInvalid):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	}
	return http.StatusInternalServerError
}

func (server *Server) abort(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		server.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	c.AbortWithStatusJSON(status, errorResponse(err))
}
