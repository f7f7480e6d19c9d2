package ike

import "github.com/go-kit/kit/log"

// logger is the package-wide structured logger for session/exchange
// events; callers may replace it with SetLogger before starting a
// session so their own log sink picks up IKE exchange activity.
var logger log.Logger = log.NewNopLogger()

// SetLogger installs the logger used by this package's session machinery.
func SetLogger(l log.Logger) { logger = l }
