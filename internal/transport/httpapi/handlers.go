package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"linkrunner/internal/engine"
	"linkrunner/internal/faults"
	"linkrunner/internal/model"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownCommand), faults.Is(err, faults.KindConfig):
		return http.StatusBadRequest
	case faults.Is(err, faults.KindNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrNotStarted), errors.Is(err, engine.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	body := errorBody{Error: err.Error()}
	if k := faults.KindOf(err); k != faults.KindUnknown {
		body.Kind = k.String()
	}
	_ = c.Error(err)
	c.JSON(statusFor(err), body)
}

func badRequest(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Kind: faults.KindConfig.String()})
}

func (s *Server) command(c *gin.Context) {
	var cmd engine.Command
	if err := c.ShouldBindJSON(&cmd); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.CommandTimeout)
	defer cancel()
	res, err := s.deps.Engine.Do(ctx, cmd)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Engine.Snapshot())
}

func (s *Server) projects(c *gin.Context) {
	ps := s.deps.Engine.Snapshot().Projects
	if ps == nil {
		ps = []*model.Project{}
	}
	c.JSON(http.StatusOK, ps)
}

func (s *Server) getSettings(c *gin.Context) {
	st, err := s.deps.Store.LoadSettings(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) putSettings(c *gin.Context) {
	var st model.Settings
	if err := c.ShouldBindJSON(&st); err != nil {
		badRequest(c, err)
		return
	}
	if err := st.Validate(); err != nil {
		fail(c, err)
		return
	}
	if err := s.deps.Store.SaveSettings(c.Request.Context(), st); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) getDomains(c *gin.Context) {
	p, err := s.deps.Store.LoadPools(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) putDomains(c *gin.Context) {
	var p model.DomainPools
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.deps.Store.SavePools(c.Request.Context(), p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (s *Server) testProxies(c *gin.Context) {
	if s.deps.Proxies == nil {
		c.JSON(http.StatusNotImplemented, errorBody{Error: "proxy testing is not configured"})
		return
	}
	res, err := s.deps.Proxies.TestAll(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.deps.Health != nil {
		body["runtime"] = s.deps.Health()
	}
	c.JSON(http.StatusOK, body)
}
