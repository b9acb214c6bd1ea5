package metrics

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/DrC0ns0le/echo-perf/pkg/logging"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Config struct {
	// Port for the metrics listener, 0 disables it
	Port int
	// Path the prometheus handler is mounted on
	Path string

	Logger logging.Logger
}

// NewHandler exposes the default prometheus registry on path.
func NewHandler(path string) http.Handler {
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle("/hello", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	mux.Handle(path, promhttp.Handler())
	return mux
}

// Serve blocks serving metrics until ctx is done.
func Serve(ctx context.Context, config Config) error {
	if config.Logger == nil {
		config.Logger = logging.NewDefaultLogger()
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(config.Port)),
		Handler:           NewHandler(config.Path),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	config.Logger.Infof("serving metrics on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
