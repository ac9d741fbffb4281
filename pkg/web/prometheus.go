package web

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type promLogger struct {
	logger logrus.FieldLogger
}

func (pl promLogger) Println(v ...interface{}) {
	pl.logger.Warnln(v...)
}

// metricsHandler exposes the internal stats gathered by g.
func metricsHandler(g prometheus.Gatherer, logger logrus.FieldLogger) http.HandlerFunc {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      promLogger{logger: logger},
		ErrorHandling: promhttp.ContinueOnError,
	}).ServeHTTP
}
