package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/jsonrpcsuite/jrs/pkg/service"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

// Config controls the exposition endpoint.
type Config struct {
	Host          string // JRS_METRICS_HOST
	Port          int    // JRS_METRICS_PORT
	SystemMetrics bool   // JRS_SYSTEM_METRICS: add Go/process collectors
	ToLog         bool   // JRS_METRICS_TO_LOG: periodically dump counters to the log
	LogInterval   time.Duration
}

// ConfigFromEnv reads the JRS_METRICS_* variables with their defaults.
func ConfigFromEnv() Config {
	cfg := Config{
		Host:        "127.0.0.1",
		Port:        9777,
		LogInterval: time.Minute,
	}
	if v := os.Getenv("JRS_METRICS_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("JRS_METRICS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Port = p
		}
	}
	cfg.SystemMetrics = envBool("JRS_SYSTEM_METRICS")
	cfg.ToLog = envBool("JRS_METRICS_TO_LOG")
	return cfg
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}

// Service serves GET /metrics for the sink's registry. It is a nested
// service: start binds the listener, stop closes it gracefully.
type Service struct {
	*service.Harness

	cfg  Config
	sink *PromSink
	log  *zap.Logger
	srv  *http.Server
	ln   net.Listener
}

// NewService builds the exposition service over sink (usually Default()).
func NewService(cfg Config, sink *PromSink, log *zap.Logger) *Service {
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = time.Minute
	}
	s := &Service{
		Harness: service.New("metrics", log),
		cfg:     cfg,
		sink:    sink,
		log:     log,
	}
	s.Iterate = s.dumpToLog
	return s
}

func (s *Service) Start(ctx context.Context) error {
	if s.cfg.SystemMetrics {
		// ignore duplicate registration on restart of a fresh service
		// over the shared default sink
		_ = s.sink.Registry().Register(collectors.NewGoCollector())
		_ = s.sink.Registry().Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.sink.Registry(), promhttp.HandlerOpts{}))

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", addr, err)
	}
	s.srv = &http.Server{Handler: mux}
	s.ln = ln

	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics server failed", zap.Error(err))
		}
	}()
	s.log.Info("metrics listening", zap.String("addr", addr))

	if s.cfg.ToLog {
		s.StartLoop(s.cfg.LogInterval, s.cfg.LogInterval)
	}
	return nil
}

// Addr returns the bound exposition address, nil before Start.
func (s *Service) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Service) Stop(ctx context.Context) error {
	s.StopLoop()
	s.Done()
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// dumpToLog writes the current counter values through the logger.
func (s *Service) dumpToLog(context.Context) error {
	families, err := s.sink.Registry().Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fields := []zap.Field{zap.String("metric", mf.GetName())}
			for _, lp := range m.GetLabel() {
				fields = append(fields, zap.String(lp.GetName(), lp.GetValue()))
			}
			switch {
			case m.GetCounter() != nil:
				fields = append(fields, zap.Float64("value", m.GetCounter().GetValue()))
			case m.GetGauge() != nil:
				fields = append(fields, zap.Float64("value", m.GetGauge().GetValue()))
			default:
				continue
			}
			s.log.Info("metric", fields...)
		}
	}
	return nil
}

// CounterValue reads the current value of a counter; zero when the
// counter has never been incremented.
func (s *PromSink) CounterValue(name string, labels Labels) float64 {
	families, err := s.reg.Gather()
	if err != nil {
		return 0
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(pairs []*dto.LabelPair, labels Labels) bool {
	if len(pairs) != len(labels) {
		return false
	}
	for _, lp := range pairs {
		if labels[lp.GetName()] != lp.GetValue() {
			return false
		}
	}
	return true
}
