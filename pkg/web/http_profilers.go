package web

import (
	"net/http"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const profileDuration = 30 * time.Second

type traceProfiler struct {
	mutex  sync.Mutex
	logger logrus.FieldLogger
}

func (tp *traceProfiler) Trace(w http.ResponseWriter, r *http.Request) {
	tp.mutex.Lock()
	defer tp.mutex.Unlock()
	if err := trace.Start(w); err != nil {
		tp.logger.WithError(err).Error("failed to start trace")
		return
	}
	defer trace.Stop()
	sleep(r, profileDuration)
}

func (tp *traceProfiler) PProf(w http.ResponseWriter, r *http.Request) {
	tp.mutex.Lock()
	defer tp.mutex.Unlock()
	if err := pprof.StartCPUProfile(w); err != nil {
		tp.logger.WithError(err).Error("failed to start cpu profile")
		return
	}
	defer pprof.StopCPUProfile()
	sleep(r, profileDuration)
}

func (tp *traceProfiler) MemProf(w http.ResponseWriter, r *http.Request) {
	tp.mutex.Lock()
	defer tp.mutex.Unlock()
	runtime.GC()
	if err := pprof.Lookup("heap").WriteTo(w, 0); err != nil {
		tp.logger.WithError(err).Error("failed to write heap profile")
	}
}

// sleep returns early when the client goes away.
func sleep(r *http.Request, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.Context().Done():
	case <-t.C:
	}
}
