package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logLevelDebugStringConstant          = "debug"
	logLevelInfoStringConstant           = "info"
	logLevelWarnStringConstant           = "warn"
	logLevelErrorStringConstant          = "error"
	logFormatStructuredStringConstant    = "structured"
	logFormatConsoleStringConstant       = "console"
	jsonZapEncodingStringConstant        = "json"
	consoleZapEncodingStringConstant     = "console"
	standardErrorOutputPathConstant      = "stderr"
	structuredTimeKeyConstant            = "timestamp"
	unsupportedLogLevelTemplateConstant  = "unsupported log level: %s"
	unsupportedLogFormatTemplateConstant = "unsupported log format: %s"
	loggerBuildErrorTemplateConstant     = "failed to build logger: %w"
)

// LogLevel enumerates supported logging granularities.
type LogLevel string

// Exported log level constants for reuse across packages.
const (
	LogLevelDebug LogLevel = LogLevel(logLevelDebugStringConstant)
	LogLevelInfo  LogLevel = LogLevel(logLevelInfoStringConstant)
	LogLevelWarn  LogLevel = LogLevel(logLevelWarnStringConstant)
	LogLevelError LogLevel = LogLevel(logLevelErrorStringConstant)
)

// LogFormat enumerates supported logger output encodings.
type LogFormat string

// Exported log format constants for reuse across packages.
const (
	LogFormatStructured LogFormat = LogFormat(logFormatStructuredStringConstant)
	LogFormatConsole    LogFormat = LogFormat(logFormatConsoleStringConstant)
)

var logLevelMapping = map[LogLevel]zapcore.Level{
	LogLevelDebug: zapcore.DebugLevel,
	LogLevelInfo:  zapcore.InfoLevel,
	LogLevelWarn:  zapcore.WarnLevel,
	LogLevelError: zapcore.ErrorLevel,
}

var logFormatEncodingMapping = map[LogFormat]string{
	LogFormatStructured: jsonZapEncodingStringConstant,
	LogFormatConsole:    consoleZapEncodingStringConstant,
}

// LoggerFactory builds zap.Logger instances writing diagnostics away from the
// command output stream, so reports printed to stdout stay machine readable.
type LoggerFactory struct {
	outputPaths []string
}

// NewLoggerFactory constructs a factory whose loggers write to stderr.
func NewLoggerFactory() *LoggerFactory {
	return NewLoggerFactoryWithOutputs(standardErrorOutputPathConstant)
}

// NewLoggerFactoryWithOutputs constructs a factory whose loggers write to the
// provided zap sink paths.
func NewLoggerFactoryWithOutputs(outputPaths ...string) *LoggerFactory {
	duplicatedPaths := make([]string, 0, len(outputPaths))
	for _, outputPath := range outputPaths {
		if trimmedPath := strings.TrimSpace(outputPath); len(trimmedPath) > 0 {
			duplicatedPaths = append(duplicatedPaths, trimmedPath)
		}
	}
	if len(duplicatedPaths) == 0 {
		duplicatedPaths = append(duplicatedPaths, standardErrorOutputPathConstant)
	}
	return &LoggerFactory{outputPaths: duplicatedPaths}
}

// ParseLogLevel normalizes a configured level name.
func ParseLogLevel(rawValue string) (LogLevel, error) {
	level := LogLevel(strings.ToLower(strings.TrimSpace(rawValue)))
	if _, exists := logLevelMapping[level]; !exists {
		return "", fmt.Errorf(unsupportedLogLevelTemplateConstant, rawValue)
	}
	return level, nil
}

// ParseLogFormat normalizes a configured format name.
func ParseLogFormat(rawValue string) (LogFormat, error) {
	format := LogFormat(strings.ToLower(strings.TrimSpace(rawValue)))
	if _, exists := logFormatEncodingMapping[format]; !exists {
		return "", fmt.Errorf(unsupportedLogFormatTemplateConstant, rawValue)
	}
	return format, nil
}

// CreateLogger produces a zap.Logger honoring the requested log level and format.
func (factory *LoggerFactory) CreateLogger(requestedLogLevel LogLevel, requestedLogFormat LogFormat) (*zap.Logger, error) {
	logLevel, levelError := ParseLogLevel(string(requestedLogLevel))
	if levelError != nil {
		return nil, levelError
	}
	logFormat, formatError := ParseLogFormat(string(requestedLogFormat))
	if formatError != nil {
		return nil, formatError
	}

	configuration := zap.NewProductionConfig()
	configuration.Level = zap.NewAtomicLevelAt(logLevelMapping[logLevel])
	configuration.Encoding = logFormatEncodingMapping[logFormat]
	configuration.OutputPaths = append([]string{}, factory.outputPaths...)
	configuration.ErrorOutputPaths = []string{standardErrorOutputPathConstant}
	configuration.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	configuration.EncoderConfig.TimeKey = structuredTimeKeyConstant

	if logFormat == LogFormatConsole {
		configuration.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		configuration.EncoderConfig.CallerKey = zapcore.OmitKey
		configuration.DisableStacktrace = true
	}

	logger, buildError := configuration.Build()
	if buildError != nil {
		return nil, fmt.Errorf(loggerBuildErrorTemplateConstant, buildError)
	}

	return logger, nil
}
