package callback

import (
	"context"
	"net"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DefaultListenAddr is the loopback address the redirect forwarder targets.
const DefaultListenAddr = "127.0.0.1:8765"

// CallbackPath is the route the listener accepts redirects on.
const CallbackPath = "/oauth/callback"

// Server is a loopback HTTP listener that feeds forwarded redirects into the
// correlator. The OS-level custom-scheme handler runs in a separate process,
// so it relays the deep link here over localhost.
type Server struct {
	correlator *Correlator
	addr       string
	srv        *http.Server
	log        *zap.Logger
}

func NewServer(correlator *Correlator, addr string, log *zap.Logger) *Server {
	if addr == "" {
		addr = DefaultListenAddr
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{correlator: correlator, addr: addr, log: log}
}

// Start binds the listener and serves in the background. It returns the bound
// address so callers may use port 0.
func (s *Server) Start() (string, error) {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(s.log, time.RFC3339, false),
		ginzap.RecoveryWithZap(s.log, false),
	)
	engine.GET(CallbackPath, s.handleCallback)

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return "", err
	}
	s.srv = &http.Server{Handler: engine}
	go func() {
		if err := s.srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Warn("callback listener stopped", zap.Error(err))
		}
	}()
	return listener.Addr().String(), nil
}

func (s *Server) handleCallback(c *gin.Context) {
	if handled := s.correlator.HandleQuery(c.Request.URL.Query()); !handled {
		c.String(http.StatusConflict, "No login is waiting for this callback.")
		return
	}
	c.String(http.StatusOK, "Authentication complete. You can close this window.")
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
