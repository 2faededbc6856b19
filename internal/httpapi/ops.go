package httpapi

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sync/errgroup"

	"github.com/supercopa/totem/internal/errors"
	"github.com/supercopa/totem/internal/generation"
	"github.com/supercopa/totem/internal/httputil"
	"github.com/supercopa/totem/internal/webhook"
)

const checkTimeout = 5 * time.Second

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// HealthResponse is the /healthz document.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleReady fails when any readiness probe fails. The record store is not
// a probe: the kiosk keeps working without it.
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	results := make(map[string]string, len(s.readiness))
	ready := true
	for _, c := range s.readiness {
		if err := c.Fn(ctx); err != nil {
			ready = false
			results[c.Name] = err.Error()
			s.logger.WithContext(ctx).WithError(err).WithField("check", c.Name).Warn("Readiness check failed")
			continue
		}
		results[c.Name] = "ok"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, map[string]any{"status": status, "checks": results})
}

// WebhookTester is the diagnostics view of the webhook client.
type WebhookTester interface {
	Test(ctx context.Context) webhook.Response
}

// ModelTester is the diagnostics view of the Gemini client.
type ModelTester interface {
	TestConnection(ctx context.Context) generation.ConnectionReport
}

// Diagnostics backs the dashboard's connection test page. Nil probes are
// reported as not configured.
type Diagnostics struct {
	Database func(ctx context.Context) error
	Storage  func(ctx context.Context) error
	Webhook  WebhookTester
	Model    ModelTester
	// Configured reports which named settings are present.
	Configured map[string]bool
	// HostStats is swapped in tests.
	HostStats func(ctx context.Context) HostStats
}

// CheckResult is the outcome of one connectivity probe.
type CheckResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// HostStats describes the kiosk machine.
type HostStats struct {
	Hostname      string   `json:"hostname,omitempty"`
	Platform      string   `json:"platform,omitempty"`
	UptimeSeconds uint64   `json:"uptimeSeconds"`
	CPUPercent    float64  `json:"cpuPercent"`
	MemoryPercent float64  `json:"memoryPercent"`
	MemoryUsedMB  uint64   `json:"memoryUsedMb"`
	MemoryTotalMB uint64   `json:"memoryTotalMb"`
	Goroutines    int      `json:"goroutines"`
	Errors        []string `json:"errors,omitempty"`
}

// DiagnosticsReport is the /api/diagnostics document.
type DiagnosticsReport struct {
	Timestamp  string                      `json:"timestamp"`
	Configured map[string]bool             `json:"configured"`
	Database   CheckResult                 `json:"database"`
	Storage    CheckResult                 `json:"storage"`
	Webhook    webhook.Response            `json:"webhook"`
	Model      generation.ConnectionReport `json:"gemini"`
	Host       HostStats                   `json:"host"`
	Camera     CameraStatus                `json:"camera"`
}

// CameraStatus names the session holding the camera, if any.
type CameraStatus struct {
	InUse     bool       `json:"inUse"`
	SessionID string     `json:"sessionId,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
}

// Run executes every probe concurrently.
func (d *Diagnostics) Run(ctx context.Context) DiagnosticsReport {
	report := DiagnosticsReport{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Configured: d.Configured,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report.Database = probe(gctx, d.Database, "Conexão com o banco OK", "Banco de dados não configurado")
		return nil
	})
	g.Go(func() error {
		report.Storage = probe(gctx, d.Storage, "Storage acessível", "Storage não configurado")
		return nil
	})
	g.Go(func() error {
		if d.Webhook == nil {
			report.Webhook = webhook.Response{Message: "webhook not configured"}
			return nil
		}
		report.Webhook = d.Webhook.Test(gctx)
		return nil
	})
	g.Go(func() error {
		if d.Model == nil {
			report.Model = generation.ConnectionReport{Service: generation.ServiceName, Message: "Gemini not configured"}
			return nil
		}
		report.Model = d.Model.TestConnection(gctx)
		return nil
	})
	g.Go(func() error {
		hostStats := d.HostStats
		if hostStats == nil {
			hostStats = CollectHostStats
		}
		report.Host = hostStats(gctx)
		return nil
	})
	_ = g.Wait()
	return report
}

func probe(ctx context.Context, fn func(context.Context) error, okMessage, missingMessage string) CheckResult {
	if fn == nil {
		return CheckResult{Message: missingMessage}
	}
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	res := CheckResult{LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Message = "Falha na conexão"
		res.Error = err.Error()
		return res
	}
	res.Success = true
	res.Message = okMessage
	return res
}

// CollectHostStats reads host metrics. Individual read failures are listed
// in Errors and leave their fields zero.
func CollectHostStats(ctx context.Context) HostStats {
	stats := HostStats{Goroutines: runtime.NumGoroutine()}

	if info, err := host.InfoWithContext(ctx); err != nil {
		stats.Errors = append(stats.Errors, "host: "+err.Error())
	} else {
		stats.Hostname = info.Hostname
		stats.Platform = info.Platform
		stats.UptimeSeconds = info.Uptime
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		stats.Errors = append(stats.Errors, "memory: "+err.Error())
	} else {
		stats.MemoryPercent = vm.UsedPercent
		stats.MemoryUsedMB = vm.Used / (1 << 20)
		stats.MemoryTotalMB = vm.Total / (1 << 20)
	}

	if pct, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		stats.Errors = append(stats.Errors, "cpu: "+err.Error())
	} else if len(pct) > 0 {
		stats.CPUPercent = pct[0]
	}
	return stats
}

func (s *server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.diag == nil {
		httputil.WriteServiceError(w, r, errors.Unavailable("Diagnostics are not configured", nil))
		return
	}
	report := s.diag.Run(r.Context())
	if holder, since := s.kiosk.Camera().Holder(); holder != "" {
		report.Camera = CameraStatus{InUse: true, SessionID: holder, Since: &since}
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (s *server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if s.analytics == nil {
		httputil.WriteServiceError(w, r, errors.Unavailable("Analytics are not configured", nil))
		return
	}
	d, err := s.analytics.Dashboard(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, r, errors.Unavailable("Falha ao carregar o painel", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, d)
}

func (s *server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		httputil.WriteServiceError(w, r, errors.Unavailable("Live dashboard is not configured", nil))
		return
	}
	s.live.ServeHTTP(w, r)
}
