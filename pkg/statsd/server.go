package statsd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/internal/lexer"
	"github.com/monasca/monagent/pkg/healthcheck"
	"github.com/monasca/monagent/pkg/ready"
	"github.com/monasca/monagent/pkg/stats"
)

// SocketFactory is an indirection layer over net.ListenPacket() to allow for different implementations.
type SocketFactory func(addr string) (net.PacketConn, error)

// ListenUDP4 binds an IPv4 UDP socket, falling back to 127.0.0.1 when
// localhost cannot be resolved.
func ListenUDP4(addr string) (net.PacketConn, error) {
	c, err := net.ListenPacket("udp4", addr)
	if err == nil {
		return c, nil
	}
	host, port, splitErr := net.SplitHostPort(addr)
	var dnsErr *net.DNSError
	if splitErr != nil || host != "localhost" || !errors.As(err, &dnsErr) {
		return nil, err
	}
	logrus.Warn("Warning localhost seems undefined in your host file, using 127.0.0.1 instead")
	return net.ListenPacket("udp4", net.JoinHostPort("127.0.0.1", port))
}

// ServerStats holds statistics for a Server.
type ServerStats struct {
	LastPacket      time.Time
	BadLines        uint64
	PacketsReceived uint64
	MetricsReceived uint64
	EventsReceived  uint64
}

// Server receives statsd datagrams and submits them to an Aggregator.
type Server struct {
	// Counter fields below must be read/written only using atomic instructions.
	// 64-bit fields must be the first fields in the struct to guarantee proper memory alignment.
	// See https://golang.org/pkg/sync/atomic/#pkg-note-BUG
	lastPacket      int64 // When last packet was received. Unix timestamp in nsec.
	badLines        uint64
	packetsReceived uint64
	metricsReceived uint64
	eventsReceived  uint64
	running         uint32

	Aggregator  monagent.Aggregator
	MetricsAddr string
	// ForwardHost, if set, receives a copy of every datagram.
	ForwardHost string
	ForwardPort int
	ReadTimeout time.Duration
	BufferSize  int
	// BadLineLimiter bounds how often bad lines are logged at warning level.
	BadLineLimiter *rate.Limiter
	Logger         logrus.FieldLogger

	badLinesGauge stats.ChangeGauge
}

// NewServer creates a Server listening on addr.
func NewServer(logger logrus.FieldLogger, aggregator monagent.Aggregator, addr string, cfg Config) *Server {
	return &Server{
		Aggregator:     aggregator,
		MetricsAddr:    addr,
		ForwardHost:    cfg.ForwardHost,
		ForwardPort:    cfg.ForwardPort,
		ReadTimeout:    DefaultReadTimeout,
		BufferSize:     DefaultBufferSize,
		BadLineLimiter: rate.NewLimiter(DefaultBadLineRateLimit, 1),
		Logger:         logger,
	}
}

// ListenAddr returns the address to listen on: localhost only, unless
// nonLocalTraffic is set.
func ListenAddr(port int, nonLocalTraffic bool) string {
	host := "localhost"
	if nonLocalTraffic {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// GetStats returns current Server stats. Safe for concurrent use.
func (s *Server) GetStats() ServerStats {
	return ServerStats{
		LastPacket:      time.Unix(0, atomic.LoadInt64(&s.lastPacket)),
		BadLines:        atomic.LoadUint64(&s.badLines),
		PacketsReceived: atomic.LoadUint64(&s.packetsReceived),
		MetricsReceived: atomic.LoadUint64(&s.metricsReceived),
		EventsReceived:  atomic.LoadUint64(&s.eventsReceived),
	}
}

// Run runs the server until context signals done or Stop is called.
func (s *Server) Run(ctx context.Context) error {
	return s.RunWithCustomSocket(ctx, ListenUDP4)
}

// RunWithCustomSocket runs the server until context signals done or Stop is called.
// Listening socket is created using sf.
func (s *Server) RunWithCustomSocket(ctx context.Context, sf SocketFactory) error {
	c, err := sf(s.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.MetricsAddr, err)
	}
	s.Logger.Infof("Listening on host & port: %s", c.LocalAddr())

	forward := s.dialForward()
	if forward != nil {
		defer forward.Close()
	}

	atomic.StoreUint32(&s.running, 1)
	closed := make(chan struct{})
	go func() {
		// This makes a blocked read error out and the loop stop
		select {
		case <-ctx.Done():
		case <-closed:
		}
		if e := c.Close(); e != nil {
			s.Logger.WithError(e).Debug("Error closing socket")
		}
	}()
	defer close(closed)

	ready.SignalReady(ctx)
	return s.receive(ctx, c, forward)
}

func (s *Server) dialForward() net.Conn {
	if s.ForwardHost == "" {
		return nil
	}
	port := s.ForwardPort
	if port <= 0 {
		port = DefaultForwardPort
	}
	addr := net.JoinHostPort(s.ForwardHost, strconv.Itoa(port))
	s.Logger.Infof("External statsd forwarding enabled. All packets received will be forwarded to %s", addr)
	conn, err := net.Dial("udp", addr)
	if err != nil {
		s.Logger.WithError(err).Error("Error while setting up connection to external statsd server")
		return nil
	}
	return conn
}

func (s *Server) receive(ctx context.Context, c net.PacketConn, forward net.Conn) error {
	size := s.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	timeout := s.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultReadTimeout
	}
	buf := make([]byte, size)
	for atomic.LoadUint32(&s.running) != 0 && ctx.Err() == nil {
		if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			s.Logger.WithError(err).Debug("Failed to set read deadline")
		}
		nbytes, _, err := c.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || atomic.LoadUint32(&s.running) == 0 || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.Logger.WithError(err).Error("Error receiving datagram")
			continue
		}
		atomic.AddUint64(&s.packetsReceived, 1)
		atomic.StoreInt64(&s.lastPacket, time.Now().UnixNano())
		datagram := buf[:nbytes]
		if err := s.HandlePacket(datagram); err != nil {
			s.Logger.WithError(err).Debug("Datagram contained bad lines")
		}
		if forward != nil {
			if _, err := forward.Write(datagram); err != nil {
				s.Logger.WithError(err).Debug("Failed to forward datagram")
			}
		}
	}
	return nil
}

// HealthChecks reports whether the server is receiving.
func (s *Server) HealthChecks() []healthcheck.HealthcheckFunc {
	return []healthcheck.HealthcheckFunc{
		func() (string, healthcheck.HealthyStatus) {
			if atomic.LoadUint32(&s.running) != 0 {
				return "statsd server listening", healthcheck.Healthy
			}
			return "statsd server not listening", healthcheck.Unhealthy
		},
	}
}

// Stop makes Run return after the current read.
func (s *Server) Stop() {
	atomic.StoreUint32(&s.running, 0)
}

// HandlePacket submits every line of a datagram to the aggregator. Lines that
// fail to parse or validate are counted and logged, the remaining lines are
// still submitted; their errors are returned together.
func (s *Server) HandlePacket(datagram []byte) error {
	var l lexer.Lexer
	var errs error
	var numMetrics, numEvents uint64
	for len(datagram) > 0 {
		var line []byte
		// protocol does not require line to end in \n
		if idx := bytes.IndexByte(datagram, '\n'); idx == -1 {
			line, datagram = datagram, nil
		} else {
			line, datagram = datagram[:idx], datagram[idx+1:]
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("_e")) {
			s.Aggregator.IncEventCount()
		} else {
			s.Aggregator.IncCount()
		}
		metric, event, err := l.Run(line)
		if err == nil {
			if metric != nil {
				numMetrics++
				err = s.Aggregator.SubmitMetric(metric)
			} else {
				numEvents++
				s.Aggregator.Event(event)
			}
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%q: %w", line, err))
			s.badLine(line, err)
		}
	}
	atomic.AddUint64(&s.metricsReceived, numMetrics)
	atomic.AddUint64(&s.eventsReceived, numEvents)
	return errs
}

func (s *Server) badLine(line []byte, err error) {
	atomic.AddUint64(&s.badLines, 1)
	atomic.AddUint64(&s.badLinesGauge.Cur, 1)
	logger := s.Logger.WithError(err).WithField("line", string(line))
	// logging as debug to avoid spamming logs when a bad actor sends
	// badly formatted messages
	if s.BadLineLimiter != nil && s.BadLineLimiter.Allow() {
		logger.Warn("Error parsing line")
	} else {
		logger.Debug("Error parsing line")
	}
}

// RunMetrics reports the server counters on every flush of the Statser in ctx.
func (s *Server) RunMetrics(ctx context.Context) {
	statser := stats.FromContext(ctx).WithDimensions(monagent.Dimensions{"component": "statsd"})
	flushed, unregister := statser.RegisterFlush()
	defer unregister()

	var prev ServerStats
	for {
		select {
		case <-ctx.Done():
			return
		case <-flushed:
			cur := s.GetStats()
			statser.Gauge("statsd.packets_received", float64(cur.PacketsReceived-prev.PacketsReceived), nil)
			statser.Gauge("statsd.metrics_received", float64(cur.MetricsReceived-prev.MetricsReceived), nil)
			statser.Gauge("statsd.events_received", float64(cur.EventsReceived-prev.EventsReceived), nil)
			s.badLinesGauge.SendIfChanged(statser, "statsd.bad_lines_seen", nil)
			prev = cur
		}
	}
}
