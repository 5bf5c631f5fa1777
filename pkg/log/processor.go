package log

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/mwantia/fabric/pkg/container"
)

// Resolve returns the LoggerService registered in sc, named after name
// when it isn't empty.
func Resolve(ctx context.Context, sc *container.ServiceContainer, name string) (LoggerService, error) {
	ok, resolved := sc.ResolveByType(ctx, reflect.TypeOf((*LoggerService)(nil)).Elem())
	if !ok {
		return nil, fmt.Errorf("no logger service registered")
	}

	logger, ok := resolved.(LoggerService)
	if !ok {
		return nil, fmt.Errorf("resolved service is not a LoggerService")
	}

	if name = strings.TrimSpace(name); name != "" {
		return logger.Named(name), nil
	}
	return logger, nil
}

// LoggerTagProcessor handles fabric:"logger" and fabric:"logger:<name>" tags.
type LoggerTagProcessor struct{}

func NewLoggerTagProcessor() *LoggerTagProcessor {
	return &LoggerTagProcessor{}
}

// Runs ahead of the default inject processor.
func (ltp *LoggerTagProcessor) GetPriority() int {
	return 50
}

func (ltp *LoggerTagProcessor) CanProcess(value string) bool {
	return strings.EqualFold(value, "logger") || strings.HasPrefix(strings.ToLower(value), "logger:")
}

func (ltp *LoggerTagProcessor) Process(ctx context.Context, sc *container.ServiceContainer, field reflect.StructField, value string) (any, error) {
	_, name, _ := strings.Cut(value, ":")

	logger, err := Resolve(ctx, sc, name)
	if err != nil {
		return nil, fmt.Errorf("failed to inject logger into '%s': %w", field.Name, err)
	}
	return logger, nil
}
