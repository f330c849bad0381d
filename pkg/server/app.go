package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	drepo "OtcPull/internal/domain/repository"
	"OtcPull/internal/usecase"
	"OtcPull/pkg/config"
	xhttp "OtcPull/pkg/http"
	pkgkafka "OtcPull/pkg/kafka"
	applogger "OtcPull/pkg/logger"
)

// SessionService is the part of the auth manager the lifecycle drives.
type SessionService interface {
	Start(ctx context.Context) error
	Close()
}

// Components are the pipeline parts the App starts and stops. Sessions,
// Consumer, Intake and Closers may be empty.
type Components struct {
	Sessions  SessionService
	Transport drepo.Transport
	Ticks     *usecase.TickCollector
	Scheduler *usecase.Scheduler
	Executor  *usecase.Executor
	Trades    *usecase.TradeCollector
	Journal   drepo.Journal
	Consumer  *pkgkafka.Consumer
	Intake    *usecase.SignalIntake
	// Closers release infrastructure clients after everything else stopped.
	Closers []io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	log         *applogger.Logger
	c           Components
	httpServer  *xhttp.Server
	httpHandler xhttp.Handler

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *applogger.Logger, c Components) *App {
	return &App{
		cfg:    cfg,
		log:    log,
		c:      c,
		stopCh: make(chan struct{}),
	}
}

// SetHTTPHandler allows DI to inject an HTTP handler.
func (a *App) SetHTTPHandler(h xhttp.Handler) { a.httpHandler = h }

// Stop asks a running App to shut down. It does not wait.
func (a *App) Stop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Run starts the pipeline and blocks until ctx is done, Stop is called,
// the HTTP listener fails or the transport reports a fatal fault. A session
// or transport failure at startup is returned without running.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.start(ctx); err != nil {
		a.shutdown()
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
	case <-a.stopCh:
		a.log.Info("stop requested")
	case err := <-a.httpErr():
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-a.transportErr():
		runErr = fmt.Errorf("transport %s: %w", a.c.Transport.Name(), err)
	}
	cancel()
	a.shutdown()
	return runErr
}

func (a *App) httpErr() <-chan error {
	if a.httpServer == nil {
		return nil
	}
	return a.httpServer.Err()
}

func (a *App) transportErr() <-chan error {
	if f, ok := a.c.Transport.(drepo.FaultReporter); ok {
		return f.Err()
	}
	return nil
}

func (a *App) start(ctx context.Context) error {
	if a.c.Sessions != nil {
		if err := a.c.Sessions.Start(ctx); err != nil {
			return fmt.Errorf("session: %w", err)
		}
		a.log.Info("session acquired")
	}

	if err := a.c.Transport.Start(ctx); err != nil {
		return fmt.Errorf("transport %s: %w", a.c.Transport.Name(), err)
	}
	a.log.Info("transport started", applogger.String("transport", a.c.Transport.Name()))

	if err := a.c.Trades.Start(ctx); err != nil {
		return fmt.Errorf("trade collector: %w", err)
	}
	if err := a.c.Ticks.Start(ctx); err != nil {
		return fmt.Errorf("tick collector: %w", err)
	}
	a.log.Info("tick collector started", applogger.Strings("assets", a.cfg.Assets))

	if a.c.Consumer != nil && a.c.Intake != nil {
		a.c.Consumer.WithConsumerHook(a.c.Intake.Hook())
		a.c.Consumer.RegisterHandler(a.c.Intake)
		if err := a.c.Consumer.Start(); err != nil {
			return fmt.Errorf("signal consumer: %w", err)
		}
		a.log.Info("signal consumer started", applogger.String("topic", a.c.Intake.Topic()))
	}

	if a.cfg.Server.Enabled {
		metricsPath := ""
		if a.cfg.Metrics.Enabled {
			metricsPath = a.cfg.Metrics.Path
		}
		a.httpServer = xhttp.NewServer(a.httpHandler,
			xhttp.WithPort(a.cfg.Server.Port),
			xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
			xhttp.WithMetricsPath(metricsPath),
			xhttp.WithCORSOrigins(a.cfg.Server.CORSOrigins...),
			xhttp.WithLogger(a.log),
		)
		if err := a.httpServer.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	return nil
}

// shutdown stops producers before consumers: no new ticks, then no new
// trades, then the transport and the session.
func (a *App) shutdown() {
	a.log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}
	if a.c.Consumer != nil && a.c.Intake != nil {
		if err := a.c.Consumer.Stop(ctx); err != nil {
			a.log.Warn("signal consumer stop error", applogger.Error(err))
		}
	}
	a.c.Ticks.Shutdown()
	a.c.Scheduler.Stop()
	a.c.Executor.Close()
	if err := a.c.Trades.Shutdown(ctx); err != nil {
		a.log.Warn("trade collector stop error", applogger.Error(err))
	}
	if err := a.c.Transport.Close(); err != nil {
		a.log.Warn("transport close error", applogger.Error(err))
	}
	if a.c.Sessions != nil {
		a.c.Sessions.Close()
	}
	if a.c.Journal != nil {
		if err := a.c.Journal.Close(); err != nil {
			a.log.Warn("journal close error", applogger.Error(err))
		}
	}
	for _, c := range a.c.Closers {
		if err := c.Close(); err != nil {
			a.log.Warn("close error", applogger.Error(err))
		}
	}
	a.log.Info("shutdown complete")
}

// Handle controls an App started with RunAsync.
type Handle struct {
	app  *App
	done chan struct{}
	err  error
}

// RunAsync runs the App on its own goroutine.
func (a *App) RunAsync(ctx context.Context) *Handle {
	h := &Handle{app: a, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = a.Run(ctx)
	}()
	return h
}

// Stop requests shutdown and waits for it to finish.
func (h *Handle) Stop() error {
	h.app.Stop()
	<-h.done
	return h.err
}

// Done is closed once the App has stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err is the Run error, valid after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// StopWithin is Stop bounded by d.
func (h *Handle) StopWithin(d time.Duration) error {
	h.app.Stop()
	select {
	case <-h.done:
		return h.err
	case <-time.After(d):
		return errors.New("app did not stop in time")
	}
}
