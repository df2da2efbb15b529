package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Setup configures the global logrus logger. Production logs are JSON; any
// other environment gets human readable text.
func Setup(level, environment string) {
	logrus.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)

	if environment == "production" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "15:04:05.000000000",
			FullTimestamp:   true,
		})
	}

	if err != nil && level != "" {
		logrus.WithField("level", level).Warn("Unknown log level, using info")
	}
}
