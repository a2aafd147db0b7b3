package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"smallbiznis-academy/pkg/config"
	"smallbiznis-academy/pkg/middleware"

	"github.com/fsnotify/fsnotify"
	"github.com/gin-gonic/gin"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"
)

var ProvideHTTPServer = fx.Module("http.server",
	fx.Provide(RegisterServerMux, NewHttpServer),
	fx.Invoke(Run),
)

// ActorAnnotator forwards the actor headers of gateway requests as gRPC metadata.
func ActorAnnotator(ctx context.Context, req *http.Request) metadata.MD {
	md := metadata.New(nil)
	for _, h := range []string{middleware.HeaderActorRole, middleware.HeaderActorID, middleware.HeaderCompanyID} {
		if v := req.Header.Get(h); v != "" {
			md.Set(strings.ToLower(h), v)
		}
	}
	return md
}

func RegisterServerMux() *runtime.ServeMux {
	return runtime.NewServeMux(runtime.WithMetadata(ActorAnnotator))
}

// certReloader serves the key pair on disk and swaps it when either file changes,
// so rotated certificates are picked up without a restart.
type certReloader struct {
	certPath, keyPath string

	mu   sync.RWMutex
	cert *tls.Certificate
}

func newCertReloader(certPath, keyPath string) (*certReloader, error) {
	r := &certReloader{certPath: certPath, keyPath: keyPath}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *certReloader) load() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return fmt.Errorf("load tls key pair: %w", err)
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// watch reloads on file events until ctx ends. A failed reload keeps the previous pair.
func (r *certReloader) watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, p := range []string{r.certPath, r.keyPath} {
		if err := watcher.Add(p); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.load(); err != nil {
					zap.L().Error("[HTTP] tls reload failed, keeping previous certificate", zap.Error(err))
					continue
				}
				zap.L().Info("[HTTP] tls certificate reloaded", zap.String("file", ev.Name))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				zap.L().Warn("[HTTP] tls watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

type Server struct {
	server *http.Server
	certs  *certReloader
}

type Params struct {
	fx.In
	Config  *config.Config
	Handler *gin.Engine
}

func NewHttpServer(p Params) (*Server, error) {
	cfg := p.Config
	srv := &Server{
		server: &http.Server{
			Addr:         fmt.Sprintf(":%s", cfg.Server.Addr),
			Handler:      p.Handler,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}

	if cfg.TLS.Enable {
		certs, err := newCertReloader(cfg.TLS.CertPath, cfg.TLS.KeyPath)
		if err != nil {
			return nil, err
		}
		srv.certs = certs
		srv.server.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: certs.GetCertificate,
		}
	}

	return srv, nil
}

func Run(lc fx.Lifecycle, srv *Server) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if srv.certs != nil {
				if err := srv.certs.watch(ctx); err != nil {
					cancel()
					return err
				}
			}

			go func() {
				var err error
				if srv.certs != nil {
					zap.L().Info("[HTTP] listening with tls", zap.String("addr", srv.server.Addr))
					err = srv.server.ListenAndServeTLS("", "")
				} else {
					zap.L().Info("[HTTP] listening", zap.String("addr", srv.server.Addr))
					err = srv.server.ListenAndServe()
				}
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					zap.L().Fatal("[HTTP] server exited", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stop context.Context) error {
			cancel()
			zap.L().Info("[HTTP] shutting down")
			return srv.server.Shutdown(stop)
		},
	})
}
