// Package utils holds the CLI plumbing shared by commands.
//
// ConfigurationLoader layers embedded defaults, an optional file and
// PRUNEKEEPER_* environment variables through Viper. LoggerFactory builds zap
// loggers in structured or console form.
package utils
