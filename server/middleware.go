package server

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"llmlatencybench/internal/benchmark"
	"llmlatencybench/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns default CORS configuration
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Content-Type", "Content-Length", "Accept-Encoding", "X-CSRF-Token", "Authorization", "accept", "origin", "Cache-Control", "X-Requested-With", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}
}

// NewCORSConfig builds the CORS configuration from a comma separated origin list.
// An empty list allows every origin.
func NewCORSConfig(origins string, release bool) CORSConfig {
	config := DefaultCORSConfig()

	if origins != "" {
		config.AllowOrigins = nil
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				config.AllowOrigins = append(config.AllowOrigins, origin)
			}
		}
	}

	if release && len(config.AllowOrigins) == 1 && config.AllowOrigins[0] == "*" {
		AppLogger.Warn("CORS is set to allow all origins in production mode. Consider setting CORS_ORIGIN environment variable.")
	}

	return config
}

// CORSMiddleware adds CORS headers to allow frontend access
func CORSMiddleware(config CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Set CORS headers
		if len(config.AllowOrigins) == 1 && config.AllowOrigins[0] == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" {
			// Check if origin is allowed
			for _, allowedOrigin := range config.AllowOrigins {
				if allowedOrigin == origin || allowedOrigin == "*" {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", strings.Join(config.AllowMethods, ", "))
		c.Writer.Header().Set("Access-Control-Allow-Headers", strings.Join(config.AllowHeaders, ", "))
		c.Writer.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", config.MaxAge))

		if config.AllowCredentials {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		// Handle preflight requests
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware tags every request with an id, reusing the caller's when present
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDHeader)
}

// LoggingMiddleware logs request details with structured format
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		statusCode := c.Writer.Status()
		fields := map[string]interface{}{
			"requestId": requestID(c),
			"method":    c.Request.Method,
			"path":      path,
			"status":    statusCode,
			"duration":  time.Since(startTime).String(),
			"ip":        c.ClientIP(),
			"userAgent": c.Request.UserAgent(),
		}
		if query != "" {
			fields["query"] = query
		}
		if len(c.Errors) > 0 {
			fields["errors"] = c.Errors.String()
		}

		switch {
		case statusCode >= 500:
			AppLogger.ErrorWithFields("request failed", fields)
		case statusCode >= 400:
			AppLogger.WarnWithFields("request rejected", fields)
		default:
			AppLogger.InfoWithFields("request", fields)
		}
	}
}

// errorStatus maps domain errors raised through c.Error to an HTTP status
func errorStatus(err error, written int) int {
	switch {
	case benchmark.IsConfigError(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRunActive), errors.Is(err, ErrRunFinished):
		return http.StatusConflict
	case written >= http.StatusBadRequest:
		return written
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandlingMiddleware answers errors attached with c.Error when the
// handler has not written a response itself
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		statusCode := errorStatus(err, c.Writer.Status())
		c.JSON(statusCode, ErrorResponse{
			Error:   http.StatusText(statusCode),
			Message: err.Error(),
			Code:    statusCode,
		})
	}
}

// RecoveryMiddleware turns a panic into a 500 carrying the request id
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				AppLogger.ErrorWithContext(&logger.LogContext{
					RequestID: requestID(c),
					Operation: c.Request.Method + " " + c.Request.URL.Path,
				}, "panic recovered: %v\n%s", err, debug.Stack())

				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Error:   "Internal Server Error",
					Message: fmt.Sprintf("An unexpected error occurred (request %s).", requestID(c)),
					Code:    http.StatusInternalServerError,
				})
			}
		}()

		c.Next()
	}
}

// RequestValidationMiddleware validates common request requirements
func RequestValidationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Validate Content-Type for POST/PUT requests
		if c.Request.Method == "POST" || c.Request.Method == "PUT" || c.Request.Method == "PATCH" {
			contentType := c.GetHeader("Content-Type")

			// body-less actions such as cancel carry no content type
			if strings.HasPrefix(c.Request.URL.Path, "/api/") && c.Request.ContentLength != 0 {
				if !strings.Contains(contentType, "application/json") {
					c.JSON(http.StatusUnsupportedMediaType, ErrorResponse{
						Error:   "Unsupported Media Type",
						Message: "Content-Type must be application/json",
						Code:    http.StatusUnsupportedMediaType,
					})
					c.Abort()
					return
				}
			}
		}

		c.Next()
	}
}

// SecurityHeadersMiddleware adds security-related HTTP headers
func SecurityHeadersMiddleware(release bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		// Only add HSTS in production
		if release {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
