package server

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/platform"
)

const (
	requestIDHeader = "X-Request-ID"
	platformKey     = "platform"
)

func init() {
	// Validation errors name fields by their form keys.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("form"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		log.Error("panic in handler", "path", c.Request.URL.Path, "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
	})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"platform", c.Param("platform"),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetString(requestIDHeader))
	}
}

// platformParam resolves the :platform path segment.
func (s *Server) platformParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := platform.Parse(c.Param("platform"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Unsupported platform: " + c.Param("platform")})
			return
		}
		c.Set(platformKey, p)
		c.Next()
	}
}

func platformOf(c *gin.Context) platform.Platform {
	return c.MustGet(platformKey).(platform.Platform)
}

// fieldError is one entry of a 422 response, shaped like FastAPI's.
type fieldError struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// bindForm binds the request form into dst and answers 422 on failure.
func bindForm(c *gin.Context, dst any) bool {
	err := c.ShouldBindWith(dst, binding.Form)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	details := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		details = append(details, fieldError{
			Loc:  []string{"body", fe.Field()},
			Msg:  "Field required",
			Type: "missing",
		})
	}
	c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"detail": details})
	return false
}

func abort(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
