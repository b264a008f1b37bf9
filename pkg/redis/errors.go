package redis

import "errors"

var (
	ErrFailedToParseConnString = errors.New("failed to parse redis connection string")
	ErrNotReady                = errors.New("redis server is not ready")
	ErrHealthcheckFailed       = errors.New("redis healthcheck failed")
)
