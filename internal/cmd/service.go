package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/google/renameio/v2/maybe"
)

// namedService is a service with a name for logging.
type namedService struct {
	service.Interface

	name string
}

// serviceMgr starts and stops LinkCheck services in order.
type serviceMgr struct {
	logger      *slog.Logger
	pidFilePath string

	// services are started in order and shut down in reverse order.
	services []*namedService

	// started is the number of successfully started services.
	started int
}

// newServiceMgr returns a new *serviceMgr.
func newServiceMgr(l *slog.Logger, pidFilePath string, svcs ...*namedService) (s *serviceMgr) {
	return &serviceMgr{
		logger:      l,
		pidFilePath: pidFilePath,
		services:    svcs,
	}
}

// type check
var _ service.Interface = (*serviceMgr)(nil)

// Start implements the [service.Interface] interface for *serviceMgr.  It
// stops at the first service that fails to start.  The started services must
// still be shut down.
func (s *serviceMgr) Start(ctx context.Context) (err error) {
	s.writePID(ctx)

	for _, svc := range s.services {
		s.logger.DebugContext(ctx, "starting", "svc", svc.name)

		err = svc.Start(ctx)
		if err != nil {
			return fmt.Errorf("starting %s: %w", svc.name, err)
		}

		s.started++
	}

	return nil
}

// writePID writes the PID to the file.  Any errors are reported to log.
func (s *serviceMgr) writePID(ctx context.Context) {
	if s.pidFilePath == "" {
		return
	}

	pid := os.Getpid()
	data := strconv.AppendInt(nil, int64(pid), 10)
	data = append(data, '\n')

	err := maybe.WriteFile(s.pidFilePath, data, 0o644)
	if err != nil {
		s.logger.ErrorContext(ctx, "writing pidfile", slogutil.KeyError, err)

		return
	}

	s.logger.DebugContext(ctx, "wrote pid", "file", s.pidFilePath, "pid", pid)
}

// Shutdown implements the [service.Interface] interface for *serviceMgr.  It
// shuts down the started services in reverse order.
func (s *serviceMgr) Shutdown(ctx context.Context) (err error) {
	var errs []error
	for _, svc := range slices.Backward(s.services[:s.started]) {
		s.logger.DebugContext(ctx, "shutting down", "svc", svc.name)

		err = svc.Shutdown(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("shutting down %s: %w", svc.name, err))
		}
	}

	s.started = 0
	s.removePID(ctx)

	return errors.Join(errs...)
}

// removePID removes the PID file, if any.
func (s *serviceMgr) removePID(ctx context.Context) {
	if s.pidFilePath == "" {
		return
	}

	err := os.Remove(s.pidFilePath)
	if err != nil {
		s.logger.ErrorContext(ctx, "removing pidfile", slogutil.KeyError, err)

		return
	}

	s.logger.DebugContext(ctx, "removed pidfile", "file", s.pidFilePath)
}
