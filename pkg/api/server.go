// Package api exposes the supervisor's control operations (start, stop,
// restart, unpin, status) and Prometheus metrics over HTTP, using gin.
//
// The transport is intentionally decoupled from the core state machine:
// any client speaking plain HTTP/JSON can drive start/stop/restart/unpin
// and read service status and metrics.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashgrove/supervisor/pkg/metrics"
	"github.com/ashgrove/supervisor/pkg/service"
)

// Server is the HTTP control API and metrics endpoint.
type Server struct {
	engine  *gin.Engine
	set     *service.ServiceSet
	metrics *metrics.Collector
	http    *http.Server

	// ShutdownFunc, if set, is invoked by the shutdown endpoint with the
	// requested shutdown type. The event loop supplies this so the API
	// layer never needs to know how shutdown is actually driven.
	ShutdownFunc func(service.ShutdownType)
}

type shutdownRequest struct {
	Type string `json:"type"`
}

// ServiceStatus is the JSON shape returned for a single service.
type ServiceStatus struct {
	Name          string `json:"name"`
	Type          string `json:"type"`
	State         string `json:"state"`
	TargetState   string `json:"target_state"`
	RequiredBy    int    `json:"required_by"`
	StopReason    string `json:"stop_reason,omitempty"`
	StartFailed   bool   `json:"start_failed"`
	StartSkipped  bool   `json:"start_skipped"`
	PID           int    `json:"pid,omitempty"`
}

// errorResponse is the JSON body returned alongside non-2xx status codes.
type errorResponse struct {
	Error string `json:"error"`
}

// New creates an API server bound to the given service set and metrics
// collector.
func New(set *service.ServiceSet, mc *metrics.Collector) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, set: set, metrics: mc}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/api/v1")
	v1.GET("/services", s.listServices)
	v1.GET("/services/:name", s.getService)
	v1.POST("/services/:name/start", s.startService)
	v1.POST("/services/:name/stop", s.stopService)
	v1.POST("/services/:name/restart", s.restartService)
	v1.POST("/services/:name/unpin", s.unpinService)
	v1.POST("/shutdown", s.shutdown)

	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
}

func toStatus(svc service.Service) ServiceStatus {
	rec := svc.Record()
	return ServiceStatus{
		Name:         svc.Name(),
		Type:         svc.Type().String(),
		State:        svc.State().String(),
		TargetState:  svc.TargetState().String(),
		RequiredBy:   svc.RequiredBy(),
		StopReason:   svc.StopReason().String(),
		StartFailed:  rec.DidStartFail(),
		StartSkipped: rec.WasStartSkipped(),
		PID:          svc.PID(),
	}
}

func (s *Server) listServices(c *gin.Context) {
	var out []ServiceStatus
	for _, svc := range s.set.ListServices() {
		out = append(out, toStatus(svc))
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) find(c *gin.Context) service.Service {
	name := c.Param("name")
	svc := s.set.FindService(name, false)
	if svc == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: fmt.Sprintf("service %q not found", name)})
	}
	return svc
}

func (s *Server) getService(c *gin.Context) {
	svc := s.find(c)
	if svc == nil {
		return
	}
	c.JSON(http.StatusOK, toStatus(svc))
}

func (s *Server) startService(c *gin.Context) {
	svc := s.find(c)
	if svc == nil {
		return
	}
	s.set.StartService(svc)
	c.JSON(http.StatusOK, toStatus(svc))
}

func (s *Server) stopService(c *gin.Context) {
	svc := s.find(c)
	if svc == nil {
		return
	}
	s.set.StopService(svc)
	c.JSON(http.StatusOK, toStatus(svc))
}

func (s *Server) restartService(c *gin.Context) {
	svc := s.find(c)
	if svc == nil {
		return
	}
	if !svc.Restart() {
		c.JSON(http.StatusConflict, errorResponse{Error: "service is not STARTED, cannot restart"})
		return
	}
	s.set.ProcessQueues()
	c.JSON(http.StatusOK, toStatus(svc))
}

func (s *Server) unpinService(c *gin.Context) {
	svc := s.find(c)
	if svc == nil {
		return
	}
	svc.Unpin()
	s.set.ProcessQueues()
	c.JSON(http.StatusOK, toStatus(svc))
}

func (s *Server) shutdown(c *gin.Context) {
	var req shutdownRequest
	_ = c.ShouldBindJSON(&req)

	var st service.ShutdownType
	switch req.Type {
	case "", "poweroff":
		st = service.ShutdownPoweroff
	case "halt":
		st = service.ShutdownHalt
	case "reboot":
		st = service.ShutdownReboot
	default:
		c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown shutdown type %q", req.Type)})
		return
	}

	if s.ShutdownFunc == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "shutdown is not wired on this server"})
		return
	}

	s.ShutdownFunc(st)
	c.JSON(http.StatusAccepted, gin.H{"status": "shutdown initiated"})
}

// Start runs the HTTP server in the background. It returns immediately;
// call Shutdown to stop it.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		_ = s.http.Serve(ln)
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
