package lexer

import (
	"bytes"
	"errors"
	"math"
	"sort"
	"strconv"

	"github.com/monasca/monagent"
)

// Lexer turns one statsd packet into either a Metric or an Event.
// A Lexer is not safe for concurrent use, but may be reused.
type Lexer struct {
	// any field added must be considered in Lexer.reset
	input         []byte
	len           uint32
	start         uint32
	pos           uint32
	eventTitleLen uint32
	eventTextLen  uint32
	m             *monagent.Metric
	e             *monagent.Event
	dims          monagent.Dimensions
	eventDims     []string
	err           error
	sampling      float64
}

// assumes we don't have \x00 bytes in input.
const eof byte = 0

var (
	errMissingKeySep     = errors.New("missing key separator")
	errEmptyKey          = errors.New("key zero len")
	errMissingValueSep   = errors.New("missing value separator")
	errInvalidType       = errors.New("invalid type")
	errInvalidFormat     = errors.New("invalid format")
	errInvalidAttributes = errors.New("invalid event attributes")
	errInvalidDimension  = errors.New("dimension must be name:value")
	errInvalidSampleRate = errors.New("sample rate must be between 0 and 1")
	errNotANumber        = errors.New("metric value must be a number")
	errOverflow          = errors.New("overflow")
	errNotEnoughData     = errors.New("not enough data")
)

var escapedNewline = []byte("\\n")
var newline = []byte("\n")

func (l *Lexer) next() byte {
	if l.pos >= l.len {
		return eof
	}
	b := l.input[l.pos]
	l.pos++
	return b
}

func (l *Lexer) reset() {
	// l.input = nil       // re-initialized by Run
	// l.len = 0           // re-initialized by Run
	// l.eventTitleLen = 0 // re-initialized by lexEventSpecial before lexEventBody
	// l.eventTextLen = 0  // re-initialized by lexEventSpecial before lexEventBody
	// l.sampling = 1      // re-initialized by Run

	l.start = 0
	l.pos = 0
	l.m = nil
	l.e = nil
	l.dims = nil
	l.eventDims = nil
	l.err = nil
}

// Run lexes a single packet, without the trailing newline.
func (l *Lexer) Run(input []byte) (*monagent.Metric, *monagent.Event, error) {
	l.reset()
	l.input = input
	l.len = uint32(len(l.input))
	l.sampling = float64(1)

	for state := lexSpecial; state != nil; {
		state = state(l)
	}
	if l.err != nil {
		return nil, nil, l.err
	}
	if l.m != nil {
		l.m.Rate = l.sampling
		if l.m.Class != monagent.SET {
			v, err := parseValue(l.m.StringValue)
			if err != nil {
				return nil, nil, err
			}
			l.m.Value = v
			l.m.StringValue = ""
		}
		l.m.Dimensions = l.dims
	} else {
		sort.Strings(l.eventDims)
		l.e.Dimensions = l.eventDims
	}
	return l.m, l.e, nil
}

// parseValue tries an integer first to avoid precision issues, then a float.
func parseValue(s string) (float64, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(i), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errNotANumber
	}
	return v, nil
}

type stateFn func(*Lexer) stateFn

// check the first byte for the event prefix.
func lexSpecial(l *Lexer) stateFn {
	switch b := l.next(); b {
	case '_':
		if l.pos < l.len && l.input[l.pos] == 'e' {
			return lexEventSpecial
		}
		// a metric name may start with an underscore
		l.pos--
		l.m = new(monagent.Metric)
		return lexKeySep
	case eof:
		l.err = errInvalidType
		return nil
	default:
		l.pos--
		l.m = new(monagent.Metric)
		return lexKeySep
	}
}

// lex until we find the colon separator between key and value.
func lexKeySep(l *Lexer) stateFn {
	p := bytes.IndexByte(l.input[l.pos:], ':')
	if p == -1 {
		l.err = errMissingKeySep
		return nil
	}
	l.pos += uint32(p) + 1
	return lexKey
}

// lex the event type marker.
func lexEventSpecial(l *Lexer) stateFn {
	switch b := l.next(); b {
	// _e{title.length,text.length}:title|text|d:date_happened|h:hostname|p:priority|t:alert_type|#dim1,dim2
	case 'e':
		l.e = new(monagent.Event)
		return lexAssert('{',
			lexUint32(&l.eventTitleLen,
				lexAssert(',',
					lexUint32(&l.eventTextLen,
						lexAssert('}', lexAssert(':', lexEventBody))))))
	default:
		l.err = errInvalidType
		return nil
	}
}

func lexEventBody(l *Lexer) stateFn {
	if l.len-l.pos < l.eventTitleLen+1+l.eventTextLen {
		l.err = errNotEnoughData
		return nil
	}
	if l.input[l.pos+l.eventTitleLen] != '|' {
		l.err = errInvalidFormat
		return nil
	}
	l.e.Title = string(l.input[l.pos : l.pos+l.eventTitleLen])
	l.pos += l.eventTitleLen + 1
	l.e.Text = string(bytes.ReplaceAll(l.input[l.pos:l.pos+l.eventTextLen], escapedNewline, newline))
	l.pos += l.eventTextLen
	return lexEventAttributes
}

func lexEventAttributes(l *Lexer) stateFn {
	switch b := l.next(); b {
	case '|':
		return lexEventAttribute(l)
	case eof:
	default:
		l.err = errInvalidAttributes
	}
	return nil
}

func lexEventAttribute(l *Lexer) stateFn {
	// d:date_happened|h:hostname|k:aggregation_key|p:priority|s:source_type|t:alert_type|#dim1,dim2
	switch b := l.next(); b {
	case 'd':
		return lexAssert(':', lexUint(func(l *Lexer, value uint64) stateFn {
			if value > math.MaxInt64 {
				l.err = errOverflow
				return nil
			}
			l.e.DateHappened = int64(value)
			return lexEventAttributes
		}))
	case 'h':
		return lexAssert(':', lexUntil('|', func(l *Lexer, data []byte) stateFn {
			l.e.Hostname = string(data)
			return lexEventAttributes
		}))
	case 'k':
		return lexAssert(':', lexUntil('|', func(l *Lexer, data []byte) stateFn {
			l.e.AggregationKey = string(data)
			return lexEventAttributes
		}))
	case 'p':
		return lexAssert(':', lexUntil('|', func(l *Lexer, data []byte) stateFn {
			l.e.Priority = monagent.Priority(data)
			l.e.HasPriority = true
			return lexEventAttributes
		}))
	case 's':
		return lexAssert(':', lexUntil('|', func(l *Lexer, data []byte) stateFn {
			l.e.SourceTypeName = string(data)
			return lexEventAttributes
		}))
	case 't':
		return lexAssert(':', lexUntil('|', func(l *Lexer, data []byte) stateFn {
			l.e.AlertType = monagent.AlertType(data)
			l.e.HasAlertType = true
			return lexEventAttributes
		}))
	case '#':
		return lexEventDimensions(l, lexEventAttributes)
	case eof:
	default:
		// unknown attributes are skipped
		return lexUnknown(l, lexEventAttributes)
	}
	return nil
}

func lexUint32(target *uint32, next stateFn) stateFn {
	return lexUint(func(l *Lexer, value uint64) stateFn {
		if value > math.MaxUint32 {
			l.err = errOverflow
			return nil
		}
		*target = uint32(value)
		return next
	})
}

func lexUint(handler func(*Lexer, uint64) stateFn) stateFn {
	return func(l *Lexer) stateFn {
		var value uint64
		start := l.pos
	loop:
		for {
			switch b := l.next(); {
			case '0' <= b && b <= '9':
				n := value*10 + uint64(b-'0')
				if n < value {
					l.err = errOverflow
					return nil
				}
				value = n
			case b == eof:
				break loop
			default:
				l.pos--
				break loop
			}
		}
		if start == l.pos {
			l.err = errInvalidFormat
			return nil
		}
		return handler(l, value)
	}
}

// lexAssert returns a function that checks if the next byte matches the provided byte and returns next in that case.
func lexAssert(nextByte byte, next stateFn) stateFn {
	return func(l *Lexer) stateFn {
		switch b := l.next(); b {
		case nextByte:
			return next
		default:
			l.err = errInvalidFormat
			return nil
		}
	}
}

// lexUntil invokes handler with all bytes up to the stop byte or an eof.
// The stop byte is not consumed.
func lexUntil(stop byte, handler func(*Lexer, []byte) stateFn) stateFn {
	return func(l *Lexer) stateFn {
		start := l.pos
		l.pos += seekStop(l.input[l.pos:], stop)
		return handler(l, l.input[start:l.pos])
	}
}

func seekStop(data []byte, stop byte) uint32 {
	p := bytes.IndexByte(data, stop)
	if p == -1 {
		return uint32(len(data))
	}
	return uint32(p)
}

// lex the key.
func lexKey(l *Lexer) stateFn {
	if l.start == l.pos-1 {
		l.err = errEmptyKey
		return nil
	}
	l.m.Name = string(l.input[l.start : l.pos-1])
	l.start = l.pos
	return lexValueSep
}

// lex until we find the pipe separator between value and type.
func lexValueSep(l *Lexer) stateFn {
	p := bytes.IndexByte(l.input[l.pos:], '|')
	if p == -1 {
		l.err = errMissingValueSep
		return nil
	}
	l.pos += uint32(p) + 1
	return lexValue
}

// lex the value.
func lexValue(l *Lexer) stateFn {
	l.m.StringValue = string(l.input[l.start : l.pos-1])
	l.start = l.pos
	return lexType
}

// lex the type.
func lexType(l *Lexer) stateFn {
	switch b := l.next(); b {
	case 'c':
		l.m.Class = monagent.COUNTER
	case 'g':
		l.m.Class = monagent.GAUGE
	case 'm':
		if b := l.next(); b != 's' {
			l.err = errInvalidType
			return nil
		}
		l.m.Class = monagent.HISTOGRAM
	case 'h':
		l.m.Class = monagent.HISTOGRAM
	case 's':
		l.m.Class = monagent.SET
	case 'r':
		l.m.Class = monagent.RATE
	default:
		l.err = errInvalidType
		return nil
	}
	l.start = l.pos
	return lexMetricFields
}

// lex the possible separator between type and optional fields.
func lexMetricFields(l *Lexer) stateFn {
	switch b := l.next(); b {
	case '|':
		l.start = l.pos
		return lexMetricField
	case eof:
	default:
		l.err = errInvalidType
	}
	return nil
}

// lexMetricField lexes the optional sample rate and dimensions. Unrecognised fields are ignored.
func lexMetricField(l *Lexer) stateFn {
	switch b := l.next(); b {
	case '@':
		return lexSampleRate(l, lexMetricFields)
	case '#':
		return lexMetricDimensions(l, lexMetricFields)
	case eof:
		return nil
	default:
		return lexUnknown(l, lexMetricFields)
	}
}

// lexSampleRate parses the sample rate up to the stop byte ('|') or an eof. The stop byte is not consumed.
func lexSampleRate(l *Lexer, next stateFn) stateFn {
	start := l.pos
	l.pos += seekStop(l.input[l.pos:], '|')
	v, err := strconv.ParseFloat(string(l.input[start:l.pos]), 64)
	if err != nil {
		l.err = err
		return nil
	}
	if v < 0 || v > 1 || math.IsNaN(v) {
		l.err = errInvalidSampleRate
		return nil
	}
	l.sampling = v
	return next
}

// lexMetricDimensions expects a comma separated list of name:value pairs.
// Empty entries are ignored, an entry without a colon is an error.
// Consumes all bytes up to the stop byte ('|') or an eof. The stop byte is not consumed.
func lexMetricDimensions(l *Lexer, next stateFn) stateFn {
	end := l.pos + seekStop(l.input[l.pos:], '|')
	for _, entry := range bytes.Split(l.input[l.pos:end], []byte{','}) {
		if len(entry) == 0 {
			continue
		}
		sep := bytes.IndexByte(entry, ':')
		if sep == -1 {
			l.err = errInvalidDimension
			return nil
		}
		if l.dims == nil {
			l.dims = monagent.Dimensions{}
		}
		l.dims[string(entry[:sep])] = string(entry[sep+1:])
	}
	l.pos = end
	return next
}

// lexEventDimensions collects comma separated dimensions verbatim, empty entries are ignored.
// Consumes all bytes up to the stop byte ('|') or an eof. The stop byte is not consumed.
func lexEventDimensions(l *Lexer, next stateFn) stateFn {
	end := l.pos + seekStop(l.input[l.pos:], '|')
	for _, entry := range bytes.Split(l.input[l.pos:end], []byte{','}) {
		if len(entry) > 0 {
			l.eventDims = append(l.eventDims, string(entry))
		}
	}
	l.pos = end
	return next
}

// lexUnknown consumes and discards all bytes up to the stop byte ('|') or an eof,
// then returns the parameter next. The stop byte is not consumed.
func lexUnknown(l *Lexer, next stateFn) stateFn {
	l.pos += seekStop(l.input[l.pos:], '|')
	return next
}
