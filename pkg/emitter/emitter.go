package emitter

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"golang.org/x/net/http2"

	"github.com/monasca/monagent"
)

const (
	// DefaultMaxRequestElapsedTime bounds the retries of a single batch.
	DefaultMaxRequestElapsedTime = 15 * time.Second
	// DefaultClientTimeout bounds a single request.
	DefaultClientTimeout = 9 * time.Second
	// maxResponseSize is the maximum response size we are willing to read.
	maxResponseSize = 10 * 1024

	userAgent = "Mon/Agent"
)

const (
	// ParamMaxRequestElapsedTime is the name of parameter with the retry budget of a batch.
	ParamMaxRequestElapsedTime = "max_request_elapsed_time"
	// ParamClientTimeout is the name of parameter with the timeout of a single request.
	ParamClientTimeout = "client_timeout"
	// ParamPayloadFormat is the name of parameter with the body format of a batch.
	ParamPayloadFormat = "payload_format"
)

const (
	// PayloadArray posts a batch as a bare JSON array.
	PayloadArray = "array"
	// PayloadSeries posts a batch wrapped in a {"series": [...]} envelope.
	PayloadSeries = "series"
)

// Serializer turns a batch of measurements into a request body.
type Serializer func([]monagent.Measurement) ([]byte, error)

// SerializeArray encodes measurements as a JSON array.
func SerializeArray(measurements []monagent.Measurement) ([]byte, error) {
	if measurements == nil {
		measurements = []monagent.Measurement{}
	}
	return json.Marshal(measurements)
}

// SerializeSeries wraps measurements in the series envelope.
func SerializeSeries(measurements []monagent.Measurement) ([]byte, error) {
	if measurements == nil {
		measurements = []monagent.Measurement{}
	}
	return json.Marshal(struct {
		Series []monagent.Measurement `json:"series"`
	}{Series: measurements})
}

// SerializerFor returns the Serializer of a payload format.
func SerializerFor(format string) (Serializer, error) {
	switch format {
	case PayloadArray, "":
		return SerializeArray, nil
	case PayloadSeries:
		return SerializeSeries, nil
	}
	return nil, fmt.Errorf("unknown %s %q, expected %s or %s", ParamPayloadFormat, format, PayloadArray, PayloadSeries)
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPEmitter posts measurements to the forwarder intake endpoint.
type HTTPEmitter struct {
	logger     logrus.FieldLogger
	newBackoff BackoffFactory
	serialize  Serializer
	client     http.Client
}

var _ monagent.Emitter = (*HTTPEmitter)(nil)

// NewHTTPEmitterFromViper returns a new HTTPEmitter configured from the emitter
// section of v. Without a payload format, batches are posted as arrays.
func NewHTTPEmitterFromViper(logger logrus.FieldLogger, v *viper.Viper) (*HTTPEmitter, error) {
	v.SetDefault(ParamClientTimeout, DefaultClientTimeout)
	newBackoff, err := RetryFromViper(v)
	if err != nil {
		return nil, err
	}
	serialize, err := SerializerFor(v.GetString(ParamPayloadFormat))
	if err != nil {
		return nil, err
	}
	return NewHTTPEmitter(logger, v.GetDuration(ParamClientTimeout), newBackoff, serialize)
}

// NewHTTPEmitter returns a new HTTPEmitter. A nil serialize posts JSON arrays.
func NewHTTPEmitter(logger logrus.FieldLogger, clientTimeout time.Duration, newBackoff BackoffFactory, serialize Serializer) (*HTTPEmitter, error) {
	if clientTimeout <= 0 {
		return nil, fmt.Errorf("clientTimeout must be positive")
	}
	if newBackoff == nil {
		return nil, fmt.Errorf("newBackoff must be set")
	}
	// The forwarder is local, never go through a proxy.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       1 * time.Minute,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: clientTimeout,
		ExpectContinueTimeout: 2 * time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, err
	}
	if serialize == nil {
		serialize = SerializeArray
	}
	return &HTTPEmitter{
		logger:     logger,
		newBackoff: newBackoff,
		serialize:  serialize,
		client: http.Client{
			Transport: transport,
			Timeout:   clientTimeout,
		},
	}, nil
}

// Headers returns the headers of a request carrying payload.
func Headers(payload []byte) http.Header {
	sum := md5.Sum(payload) // #nosec
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "text/html, */*")
	h.Set("Content-MD5", hex.EncodeToString(sum[:]))
	return h
}

// Emit posts measurements to <url>/intake in the configured payload format,
// retrying according to the retry policy.
func (e *HTTPEmitter) Emit(ctx context.Context, measurements []monagent.Measurement, url string) error {
	payload, err := e.serialize(measurements)
	if err != nil {
		return fmt.Errorf("unable to marshal measurements: %v", err)
	}
	intake := strings.TrimSuffix(url, "/") + "/intake"
	e.logger.Debugf("http_emitter: attempting postback to %s", intake)

	err = backoff.RetryNotify(e.doPost(ctx, intake, payload), backoff.WithContext(e.newBackoff(), ctx), func(err error, d time.Duration) {
		e.logger.WithError(err).Warnf("Failed to send measurements, sleeping for %s", d)
	})
	if err != nil {
		return fmt.Errorf("forwarder at %s is down or not responding: %w", intake, err)
	}
	return nil
}

func (e *HTTPEmitter) doPost(ctx context.Context, url string, payload []byte) backoff.Operation {
	headers := Headers(payload)
	return func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("unable to create http.Request: %v", err))
		}
		req.Header = headers.Clone()
		resp, err := e.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("error POSTing: %v", err)
		}
		defer resp.Body.Close()
		body := io.LimitReader(resp.Body, maxResponseSize)
		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			b, _ := io.ReadAll(body)
			e.logger.Infof("Failed request status: %d\n%s", resp.StatusCode, b)
			err := fmt.Errorf("received bad status code %d", resp.StatusCode)
			if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode < http.StatusInternalServerError && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}
		if resp.StatusCode == http.StatusAccepted {
			e.logger.Debug("http payload accepted")
		}
		_, _ = io.Copy(io.Discard, body)
		return nil
	}
}
