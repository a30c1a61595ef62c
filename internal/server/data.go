package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/majorcontext/portage/internal/connector"
	"github.com/majorcontext/portage/internal/credential"
	"github.com/majorcontext/portage/internal/loader"
	"github.com/majorcontext/portage/internal/log"
	"github.com/majorcontext/portage/internal/platform"
	"github.com/majorcontext/portage/internal/server/kv"
)

type loadForm struct {
	Credentials string `form:"credentials" binding:"required"`
	User        string `form:"user" binding:"required"`
	Org         string `form:"org" binding:"required"`
}

type transferForm struct {
	Destination       string `form:"to_org" binding:"required"`
	User              string `form:"user" binding:"required"`
	Org               string `form:"org" binding:"required"`
	TargetCredentials string `form:"target_credentials" binding:"required"`
	SourceCredentials string `form:"source_credentials"`
}

func (s *Server) handleLoad(c *gin.Context) {
	var form loadForm
	if !bindForm(c, &form) {
		return
	}
	p := platformOf(c)
	ctx := c.Request.Context()

	token, ok := accessToken(c, form.Credentials)
	if !ok {
		return
	}
	records, err := s.connectors[p].Load(ctx, token)
	if err != nil {
		connectorFailure(c, p, "load", err)
		return
	}

	data, err := json.Marshal(records)
	if err != nil {
		abort(c, http.StatusInternalServerError, "Failed to encode records")
		return
	}
	if err := s.store.Set(ctx, key(p, "data", form.Org, form.User), string(data), dataTTL); err != nil {
		log.Warn("caching load result", "platform", p, "error", err)
	}
	log.Info("loaded records", "platform", p, "count", len(records))
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) handleTransfer(c *gin.Context) {
	var form transferForm
	if !bindForm(c, &form) {
		return
	}
	source := platformOf(c)
	ctx := c.Request.Context()

	dest, err := platform.Parse(form.Destination)
	if err != nil {
		abort(c, http.StatusBadRequest, "Unsupported destination: "+form.Destination)
		return
	}
	if dest == source {
		abort(c, http.StatusBadRequest, "Source and destination must differ")
		return
	}
	token, ok := accessToken(c, form.TargetCredentials)
	if !ok {
		return
	}

	records, ok := s.sourceRecords(ctx, c, source, form)
	if !ok {
		return
	}

	n, err := s.connectors[dest].Import(ctx, token, records)
	if err != nil {
		connectorFailure(c, dest, "transfer", err)
		return
	}
	log.Info("transferred records", "from", source, "to", dest, "count", n)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "count": n})
}

// sourceRecords loads live when source credentials are supplied and falls
// back to the last cached load otherwise.
func (s *Server) sourceRecords(ctx context.Context, c *gin.Context, source platform.Platform, form transferForm) ([]loader.Record, bool) {
	if form.SourceCredentials != "" {
		token, ok := accessToken(c, form.SourceCredentials)
		if !ok {
			return nil, false
		}
		records, err := s.connectors[source].Load(ctx, token)
		if err != nil {
			connectorFailure(c, source, "load", err)
			return nil, false
		}
		return records, true
	}

	raw, err := s.store.Get(ctx, key(source, "data", form.Org, form.User))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			abort(c, http.StatusBadRequest, "No "+source.DisplayName()+" data found. Load it first.")
			return nil, false
		}
		abort(c, http.StatusInternalServerError, "Failed to read cached data")
		return nil, false
	}
	var records []loader.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		abort(c, http.StatusInternalServerError, "Failed to read cached data")
		return nil, false
	}
	return records, true
}

func accessToken(c *gin.Context, encoded string) (string, bool) {
	cred, err := credential.Decode([]byte(encoded))
	if err != nil || cred.AccessToken() == "" {
		abort(c, http.StatusBadRequest, "Invalid credentials")
		return "", false
	}
	return cred.AccessToken(), true
}

// connectorFailure maps a connector error onto a response.
func connectorFailure(c *gin.Context, p platform.Platform, op string, err error) {
	log.Warn("connector call failed", "platform", p, "op", op, "error", err)

	var apiErr *connector.APIError
	switch {
	case errors.Is(err, connector.ErrImportUnsupported):
		abort(c, http.StatusBadRequest, p.DisplayName()+" does not accept transfers")
	case errors.Is(err, connector.ErrNotConfigured):
		abort(c, http.StatusBadRequest, p.DisplayName()+" transfer target is not configured")
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized:
		abort(c, http.StatusUnauthorized, p.DisplayName()+" rejected the credentials")
	case errors.As(err, &apiErr) && apiErr.Message != "":
		abort(c, http.StatusBadGateway, p.DisplayName()+": "+apiErr.Message)
	default:
		abort(c, http.StatusBadGateway, "Failed to reach "+p.DisplayName())
	}
}
