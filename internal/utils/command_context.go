package utils

import "context"

type commandContextKey string

const configurationFileContextKeyConstant = commandContextKey("configuration_file")

// WithConfigurationFile records the configuration file that produced the
// active settings on a command context.
func WithConfigurationFile(parentContext context.Context, configurationFile string) context.Context {
	if parentContext == nil {
		parentContext = context.Background()
	}
	return context.WithValue(parentContext, configurationFileContextKeyConstant, configurationFile)
}

// ConfigurationFile returns the file recorded by WithConfigurationFile. An
// empty path with ok set means only defaults and the environment were applied.
func ConfigurationFile(executionContext context.Context) (string, bool) {
	if executionContext == nil {
		return "", false
	}
	configurationFile, ok := executionContext.Value(configurationFileContextKeyConstant).(string)
	return configurationFile, ok
}
