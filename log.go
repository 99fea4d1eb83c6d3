package strata

import "github.com/sirupsen/logrus"

// ensureLogger returns l, or the process-wide logrus logger when no logger
// was injected.
func ensureLogger(l logrus.FieldLogger) logrus.FieldLogger {
	if l == nil {
		return logrus.StandardLogger()
	}
	return l
}
