package web

import (
	"context"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/monasca/monagent/internal/util"
	"github.com/monasca/monagent/pkg/healthcheck"
	"github.com/monasca/monagent/pkg/ready"
)

const (
	// ParamAddress is the name of parameter with the listen address of the web server.
	ParamAddress = "address"
	// ParamEnableProf is the name of parameter enabling the profiling endpoints.
	ParamEnableProf = "enable-prof"
	// ParamEnableExpVar is the name of parameter enabling /expvar.
	ParamEnableExpVar = "enable-expvar"
	// ParamEnableHealthcheck is the name of parameter enabling /healthcheck and /deepcheck.
	ParamEnableHealthcheck = "enable-healthcheck"
	// ParamEnableMetrics is the name of parameter enabling /metrics.
	ParamEnableMetrics = "enable-metrics"
)

// Options select the endpoints of an HttpServer.
type Options struct {
	EnableProf        bool
	EnableExpVar      bool
	EnableHealthcheck bool
	EnableMetrics     bool
	// Gatherer serves /metrics.
	Gatherer     prometheus.Gatherer
	HealthChecks []healthcheck.HealthcheckFunc
	DeepChecks   []healthcheck.HealthcheckFunc
}

// HttpServer serves the health, metrics and profiling endpoints of an agent daemon.
type HttpServer struct {
	logger  logrus.FieldLogger
	address string
	Router  *mux.Router
	addr    chan net.Addr
}

type route struct {
	path    string
	handler http.HandlerFunc
	method  string
	name    string
}

var done = struct{}{}

// NewHttpServerFromViper creates an HttpServer from the web section of v.
// Health and deep checks are supplied by the caller.
func NewHttpServerFromViper(logger logrus.FieldLogger, v *viper.Viper, address string, gatherer prometheus.Gatherer, healthChecks, deepChecks []healthcheck.HealthcheckFunc) (*HttpServer, error) {
	vSub := util.GetSubViper(v, "web")
	vSub.SetDefault(ParamAddress, address)
	vSub.SetDefault(ParamEnableProf, false)
	vSub.SetDefault(ParamEnableExpVar, false)
	vSub.SetDefault(ParamEnableHealthcheck, true)
	vSub.SetDefault(ParamEnableMetrics, true)

	return NewHttpServer(logger, vSub.GetString(ParamAddress), Options{
		EnableProf:        vSub.GetBool(ParamEnableProf),
		EnableExpVar:      vSub.GetBool(ParamEnableExpVar),
		EnableHealthcheck: vSub.GetBool(ParamEnableHealthcheck),
		EnableMetrics:     vSub.GetBool(ParamEnableMetrics),
		Gatherer:          gatherer,
		HealthChecks:      healthChecks,
		DeepChecks:        deepChecks,
	})
}

// NewHttpServer creates an HttpServer listening on address.
func NewHttpServer(logger logrus.FieldLogger, address string, opts Options) (*HttpServer, error) {
	var routes []route

	server := &HttpServer{
		logger:  logger,
		address: address,
		addr:    make(chan net.Addr, 1),
	}

	if opts.EnableProf {
		profiler := &traceProfiler{logger: logger}
		routes = append(routes,
			route{path: "/memprof", handler: profiler.MemProf, method: "POST", name: "profmem_post"},
			route{path: "/pprof", handler: profiler.PProf, method: "POST", name: "profpprof_post"},
			route{path: "/trace", handler: profiler.Trace, method: "POST", name: "proftrace_post"},
		)
	}

	if opts.EnableExpVar {
		routes = append(routes,
			route{path: "/expvar", handler: expvar.Handler().ServeHTTP, method: "GET", name: "expvar_get"},
		)
	}

	if opts.EnableHealthcheck {
		hc := &healthChecker{
			logger:       logger,
			healthChecks: opts.HealthChecks,
			deepChecks:   opts.DeepChecks,
		}
		routes = append(routes,
			route{path: "/healthcheck", handler: hc.healthCheck, method: "GET", name: "healthcheck_get"},
			route{path: "/deepcheck", handler: hc.deepCheck, method: "GET", name: "deepcheck_get"},
		)
	}

	if opts.EnableMetrics {
		if opts.Gatherer == nil {
			return nil, fmt.Errorf("metrics endpoint requires a gatherer")
		}
		routes = append(routes,
			route{path: "/metrics", handler: metricsHandler(opts.Gatherer, logger), method: "GET", name: "metrics_get"},
		)
	}

	if len(routes) == 0 {
		return nil, fmt.Errorf("must enable at least one of prof, expvar, healthcheck, or metrics")
	}

	router, err := createRoutes(routes)
	if err != nil {
		return nil, err
	}
	router.NotFoundHandler = server.logRequest(http.HandlerFunc(server.notFound))
	router.Use(server.logRequest)
	server.Router = router

	logger.WithFields(logrus.Fields{
		"address":            address,
		"enable-pprof":       opts.EnableProf,
		"enable-expvar":      opts.EnableExpVar,
		"enable-healthcheck": opts.EnableHealthcheck,
		"enable-metrics":     opts.EnableMetrics,
	}).Info("Created server")

	return server, nil
}

func (hs *HttpServer) notFound(w http.ResponseWriter, req *http.Request) {
	w.WriteHeader(404)
	_, _ = w.Write([]byte("not found"))
}

func createRoutes(routes []route) (*mux.Router, error) {
	router := mux.NewRouter()

	for _, route := range routes {
		r := router.HandleFunc(route.path, route.handler).Methods(route.method).Name(route.name)
		if err := r.GetError(); err != nil {
			return nil, fmt.Errorf("error creating route %s: %v", route.name, err)
		}
	}

	return router, nil
}

func (hs *HttpServer) logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		logFields := logrus.Fields{
			"srcip": strings.Split(req.RemoteAddr, ":")[0],
			"path":  req.URL.Path,
		}
		if route := mux.CurrentRoute(req); route == nil {
			logFields["method"] = req.Method
		} else {
			logFields["route"] = route.GetName()
		}
		if source := req.Header.Get("X-Forwarded-For"); source != "" {
			logFields["forwarded_for"] = source
		}

		start := time.Now()
		handler.ServeHTTP(w, req)
		dur := time.Since(start)

		logFields["duration"] = float64(dur) / float64(time.Millisecond)
		hs.logger.WithFields(logFields).Debug("request")
	})
}

// Addr returns the address the server is listening on, once it is.
func (hs *HttpServer) Addr() <-chan net.Addr {
	return hs.addr
}

// Run serves until ctx is done.
func (hs *HttpServer) Run(ctx context.Context) {
	server := &http.Server{
		Handler:           hs.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", hs.address)
	if err != nil {
		hs.logger.WithError(err).Error("web server failed")
		return
	}
	hs.addr <- listener.Addr()

	chStopped := make(chan struct{}, 1)
	go hs.waitAndStop(ctx, server, chStopped)

	hs.logger.WithField("address", listener.Addr().String()).Info("listening")
	ready.SignalReady(ctx)

	err = server.Serve(listener)
	if err != http.ErrServerClosed {
		hs.logger.WithError(err).Error("web server failed")
		return
	}

	// Wait for graceful shutdown of existing connections

	select {
	case <-chStopped:
		// happy
	case <-time.After(6 * time.Second):
		hs.logger.Info("timeout waiting for webserver to stop")
	}
}

// waitAndStop will gracefully shut down the Server when the Context passed is cancelled.  It signals
// on chStopped when it is done.  There is no guarantee that it will actually signal, if the server
// does not shutdown.
func (hs *HttpServer) waitAndStop(ctx context.Context, server *http.Server, chStopped chan<- struct{}) {
	<-ctx.Done()

	hs.logger.Info("shutting down web server")
	timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(timeoutCtx)
	if err != nil {
		hs.logger.WithError(err).Warn("failed to stop web server")
	}
	chStopped <- done
}
