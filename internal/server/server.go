// Package server exposes the ticket printer over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaz8081/ticketprint/internal/config"
	"github.com/chaz8081/ticketprint/internal/printer"
	"github.com/chaz8081/ticketprint/internal/raster"
	"github.com/chaz8081/ticketprint/internal/ticket"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// TicketRequest is the JSON body of POST /submit_ticket.
type TicketRequest struct {
	FromName string `json:"from_name"`
	Question string `json:"question"`
	Image    string `json:"image"` // base64, optionally a data URL
}

// Server is the HTTP front end of a single printer.
type Server struct {
	cfg     config.ServerConfig
	printer printer.Printer
	log     *zap.Logger
	engine  *gin.Engine
	decode  func(string) (image.Image, error)
}

// Option customizes a Server.
type Option func(*Server)

// WithMaxImagePixels sets the decoded size limit for uploaded images.
// n <= 0 disables the limit.
func WithMaxImagePixels(n int) Option {
	return func(s *Server) {
		s.decode = func(b64 string) (image.Image, error) {
			return raster.DecodeBase64Limit(b64, n)
		}
	}
}

// New builds the gin engine for p.
// Panics if p is nil (programmer error).
func New(cfg config.ServerConfig, p printer.Printer, log *zap.Logger, opts ...Option) *Server {
	if p == nil {
		panic("server: New called with nil printer")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		printer: p,
		log:     log,
		engine:  gin.New(),
		decode:  raster.DecodeBase64,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.Use(
		Recovery(s.log),
		RequestID(),
		AccessLog(s.log),
		CORS(s.cfg.AllowedOrigins),
		BodyLimit(s.cfg.MaxBodyBytes),
	)
	s.engine.GET("/health", s.health)
	s.engine.POST("/submit_ticket", RateLimit(s.cfg.RateLimit, s.cfg.RateBurst), s.submitTicket)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: listen on %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) submitTicket(c *gin.Context) {
	log := requestLogger(c, s.log)

	var body TicketRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			fail(c, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		fail(c, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	req, err := ticket.NewRequest(body.FromName, body.Question, nil)
	if err != nil {
		fail(c, http.StatusBadRequest, "Question/Comment cannot be empty")
		return
	}

	if body.Image != "" {
		img, err := s.decode(body.Image)
		if err != nil {
			log.Warn("image decode failed, printing text only", zap.Error(err))
		} else {
			req.Image = img
		}
	}

	if err := s.printer.Print(c.Request.Context(), req); err != nil {
		log.Error("error printing ticket", zap.String("sender", req.Sender), zap.Error(err))
		fail(c, http.StatusInternalServerError, printErrorMessage(err))
		return
	}

	log.Info("ticket printed", zap.String("sender", req.Sender), zap.Stringer("kind", s.printer.Kind()))
	msg := "Ticket printed successfully"
	if s.printer.Kind() == printer.KindBLE {
		msg += " (BLE)"
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

func (s *Server) health(c *gin.Context) {
	connected, err := s.checkPrinter(c.Request.Context())
	if err != nil {
		requestLogger(c, s.log).Error("health check failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"printer_connected": connected,
		"printer_type":      s.printer.Kind().String(),
	})
}

// checkPrinter runs the availability probe, turning a panic into an error.
func (s *Server) checkPrinter(ctx context.Context) (connected bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("printer check panicked: %v", r)
		}
	}()
	return s.printer.Available(ctx), nil
}

func printErrorMessage(err error) string {
	switch {
	case errors.Is(err, printer.ErrUnavailable):
		return "Printer not available"
	case errors.Is(err, printer.ErrNotConfigured):
		return err.Error()
	}
	return fmt.Sprintf("Failed to print ticket: %v", err)
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}
