package util

import (
	"fmt"
	"io"
	"os"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// ParamVerbose enables verbose logging.
	ParamVerbose = "verbose"
	// ParamJSON makes logger log in JSON format.
	ParamJSON = "json"
	// ParamLogFile makes logger write to a daily rotated file instead of stderr.
	ParamLogFile = "log-file"

	logMaxAge       = 7 * 24 * time.Hour
	logRotationTime = 24 * time.Hour
)

// AddLoggingFlags adds the logging flags to fs.
func AddLoggingFlags(fs *pflag.FlagSet) {
	fs.Bool(ParamVerbose, false, "Verbose")
	fs.Bool(ParamJSON, false, "Log in JSON format")
	fs.String(ParamLogFile, "", "Log to this file, rotated daily and kept for a week")
}

// SetupLogger configures logger from v. The returned closer releases the
// log file, if any.
func SetupLogger(logger *logrus.Logger, v *viper.Viper) (io.Closer, error) {
	if v.GetBool(ParamVerbose) {
		logger.SetLevel(logrus.DebugLevel)
	}
	if v.GetBool(ParamJSON) {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	path := v.GetString(ParamLogFile)
	if path == "" {
		return nopCloser{}, nil
	}
	writer, err := rotatelogs.New(
		path+".%Y%m%d",
		rotatelogs.WithLinkName(path),
		rotatelogs.WithMaxAge(logMaxAge),
		rotatelogs.WithRotationTime(logRotationTime),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	logger.SetOutput(io.MultiWriter(writer, os.Stderr))
	return writer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error {
	return nil
}
