package svc

import "errors"

// ErrNoFeedsEnabled means no oracle price feed was enabled in config.
var ErrNoFeedsEnabled = errors.New("no price feeds enabled")

// ErrStorageInitFailed wraps storage backend construction failures.
var ErrStorageInitFailed = errors.New("storage initialization failed")
