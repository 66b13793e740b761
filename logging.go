package wafer

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Log is the package-level logger. It is silent by default (output
// discarded) so importing wafer never spams a caller's process; set
// Log.SetOutput and Log.SetLevel to opt in, mirroring the Python
// package's logging.getLogger("wafer") + NullHandler() convention.
var Log = newDiscardLogger()

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.DebugLevel)
	return l
}
