package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
	ErrConfigInvalidTTL     = errors.New("config invalid ttl")
	ErrConfigInvalidSize    = errors.New("config invalid capacity")
)

var (
	ErrTierMiss         = errors.New("tier miss")
	ErrEntryExpired     = errors.New("entry expired")
	ErrEntryCorrupted   = errors.New("entry corrupted")
	ErrEntryTooLarge    = errors.New("entry too large for tier")
	ErrCacheKeyEmpty    = errors.New("cache key empty")
	ErrGeneratorIsNil   = errors.New("generator is nil")
	ErrGenerationFailed = errors.New("generation failed")
	ErrCacheOnlyMode    = errors.New("generation disabled, serving cache only")
)

var (
	ErrTransientDependency = errors.New("transient dependency error")
	ErrFatalDependency     = errors.New("fatal dependency error")
	ErrObjectNotFound      = errors.New("object not found")
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

var (
	ErrProbeIsNil         = errors.New("probe is nil")
	ErrProbeTimeout       = errors.New("probe timeout")
	ErrDependencyExists   = errors.New("dependency already registered")
	ErrDependencyUnknown  = errors.New("dependency unknown")
	ErrNoFallbackStrategy = errors.New("no fallback strategy for dependency")
)

var (
	ErrManagerNotRunning     = errors.New("manager not running")
	ErrManagerAlreadyRunning = errors.New("manager already running")
)

var (
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}

// IsMiss reports whether err stands for an absent or expired entry. Both
// drive fallthrough to the next tier and are never surfaced to callers.
func IsMiss(err error) bool {
	return errors.Is(err, ErrTierMiss) || errors.Is(err, ErrEntryExpired)
}
