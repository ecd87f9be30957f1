package config

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

const serviceName = "routesync"

var logg *logrus.Logger

func GetLogger() *logrus.Logger {
	return logg
}

// serviceHook stamps every entry with the service name so shared log sinks can filter on it.
type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (serviceHook) Fire(e *logrus.Entry) error {
	if _, ok := e.Data["service"]; !ok {
		e.Data["service"] = serviceName
	}
	return nil
}

func init() {
	logg = logrus.New()
	logg.SetOutput(os.Stdout)
	// LOG_FORMAT=text is for local runs; everything else gets JSON.
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "text") {
		logg.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logg.SetFormatter(&logrus.JSONFormatter{})
	}
	logg.AddHook(serviceHook{})

	level, err := logrus.ParseLevel(strings.TrimSpace(os.Getenv("LOG_LEVEL")))
	if err != nil {
		level = logrus.InfoLevel
	}
	logg.SetLevel(level)
}

// LogError logs err with the module, function and step it happened in. data is
// attached when non-nil (the row, key or request that failed).
func LogError(logger *logrus.Logger, moduleName string, funcName string, context string, data any, err error) {
	if logger == nil {
		logger = logg
	}
	fields := logrus.Fields{
		"module":   moduleName,
		"funcName": funcName,
		"context":  context,
	}
	if data != nil {
		fields["data"] = data
	}
	logger.WithFields(fields).Error(err.Error())
}
