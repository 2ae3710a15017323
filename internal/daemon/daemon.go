// Package daemon wires every canopy-agent component (C1-C10 plus the §12
// supplements) into one process and manages its lifecycle.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/canopy-robotics/canopy-agent/internal/bridge"
	"github.com/canopy-robotics/canopy-agent/internal/command"
	"github.com/canopy-robotics/canopy-agent/internal/config"
	"github.com/canopy-robotics/canopy-agent/internal/controlplane"
	"github.com/canopy-robotics/canopy-agent/internal/diagnosis"
	"github.com/canopy-robotics/canopy-agent/internal/driver"
	"github.com/canopy-robotics/canopy-agent/internal/errs"
	"github.com/canopy-robotics/canopy-agent/internal/eventbus"
	"github.com/canopy-robotics/canopy-agent/internal/framepipeline"
	"github.com/canopy-robotics/canopy-agent/internal/healthz"
	logpkg "github.com/canopy-robotics/canopy-agent/internal/log"
	"github.com/canopy-robotics/canopy-agent/internal/marker"
	"github.com/canopy-robotics/canopy-agent/internal/mission"
	"github.com/canopy-robotics/canopy-agent/internal/modelregistry"
	"github.com/canopy-robotics/canopy-agent/internal/objectdetector"
	"github.com/canopy-robotics/canopy-agent/internal/segmentation"
	"github.com/canopy-robotics/canopy-agent/internal/statuscache"
	"github.com/canopy-robotics/canopy-agent/internal/vlm"
	"github.com/canopy-robotics/canopy-agent/pkg/plugin"
)

const statusPollInterval = 500 * time.Millisecond // ~2Hz

// Daemon manages the agent process lifecycle: it owns every C1-C10
// component and the admin control channel the CLI talks to.
type Daemon struct {
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	drv         driver.Driver
	statusCache *statuscache.Cache
	markerDet   *marker.Detector
	objDet      *objectdetector.Detector
	segClient   *segmentation.Client
	diagWF      *diagnosis.Workflow
	pipeline    *framepipeline.Pipeline
	missionCtl  *mission.Controller
	modelReg    *modelregistry.Registry

	hub       *controlplane.Hub
	publisher *controlplane.HubPublisher
	bus       eventbus.EventBus
	relay     *bridge.Relay
	healthSrv *healthz.Server

	controlHTTP *http.Server
	healthHTTP  *http.Server

	cmdHandler  *command.CommandHandler
	udsServer   *command.UDSServer
	recoveryMgr *errs.RecoveryManager

	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
}

// New loads configuration and assembles every component, but starts
// nothing running yet; that is Start's job.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if socketPath == "" {
		socketPath = cfg.Control.Socket
	}
	if pidFile == "" {
		pidFile = cfg.Control.PIDFile
	}

	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}),
		recoveryMgr:  errs.NewRecoveryManager(3),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	if err := d.buildComponents(); err != nil {
		return nil, err
	}
	return d, nil
}

// buildComponents wires C1-C10 and the §12 supplements together from the
// loaded configuration. No goroutines are started here.
func (d *Daemon) buildComponents() error {
	cfg := d.config

	if cfg.Driver.Type == "sim" {
		d.drv = driver.NewSim()
	} else {
		d.drv = driver.New(driver.Config{
			Address:        cfg.Driver.Address,
			ConnectTimeout: parseDurationOr(cfg.Driver.ConnectTimeout, 5*time.Second),
		})
	}

	d.statusCache = statuscache.New(
		statuscache.Thresholds{
			Battery:     cfg.StatusCache.BatteryThreshold,
			Temperature: cfg.StatusCache.TemperatureThreshold,
			Height:      cfg.StatusCache.HeightThreshold,
			Position:    cfg.StatusCache.PositionThreshold,
		},
		time.Duration(cfg.StatusCache.MinIntervalMS)*time.Millisecond,
		time.Duration(cfg.StatusCache.TTLSeconds)*time.Second,
		cfg.StatusCache.HistoryLimit,
	)

	d.markerDet = marker.New(marker.NopDecoder{}, time.Duration(cfg.Marker.CooldownSeconds)*time.Second)

	d.modelReg = modelregistry.New(cfg.ModelRegistry.Dir)
	if err := d.modelReg.Load(); err != nil {
		slog.Warn("model registry load failed, starting empty", "error", err)
	}
	d.objDet = objectdetector.New("primary", objectdetector.NopBackend{}, 0, 0)

	if cfg.Segmentation.Enabled {
		d.segClient = segmentation.New(segmentation.Config{
			BaseURL:         cfg.Segmentation.BaseURL,
			MaxConcurrent:   cfg.Segmentation.MaxConcurrent,
			RetryMax:        cfg.Segmentation.RetryMax,
			RequestTimeout:  parseDurationOr(cfg.Segmentation.RequestTimeout, 10*time.Second),
			FallbackEnabled: cfg.Segmentation.FallbackEnabled,
		})
	}

	d.diagWF = diagnosis.New(diagnosis.Config{
		CooldownSeconds: cfg.Diagnosis.CooldownSeconds,
		HistoryLimit:    cfg.Diagnosis.HistoryLimit,
	}, d.segClient)
	d.bootstrapAIConfig()

	d.hub = controlplane.New(nil)
	d.publisher = controlplane.NewHubPublisher(d.hub)

	d.pipeline = framepipeline.New(d.drv, d.objDet, d.markerDet, d.diagWF, d.publisher)
	d.missionCtl = mission.New(d.drv)

	// The diagnosis workflow and mission controller never call the hub
	// directly: they publish onto the bus by topic, and the bus's
	// per-topic subscribers fan those events out to the HubPublisher.
	// This keeps two unrelated diagnoses (different plant IDs) ordered
	// independently of each other and never lets a slow broadcast stall
	// either component's own goroutine.
	d.bus = eventbus.NewInMemoryEventBus(4, 256)
	d.wireEventBus()

	d.diagWF.SetCallbacks(
		func(plantID int, stage, message string, percent int) {
			eventbus.PublishPlant(d.bus, eventbus.TopicDiagnosisProgress, plantID, diagnosisProgressPayload{
				PlantID: plantID, Stage: stage, Message: message, Percent: percent,
			})
		},
		func(r *diagnosis.Report) {
			eventbus.PublishPlant(d.bus, eventbus.TopicDiagnosisComplete, r.PlantID, r)
		},
		func(plantID int, err error) {
			eventbus.PublishPlant(d.bus, eventbus.TopicDiagnosisError, plantID, diagnosisErrorPayload{PlantID: plantID, Err: err})
		},
	)
	d.missionCtl.SetCallbacks(
		func(message string) {
			d.bus.Publish(&eventbus.Event{Topic: eventbus.TopicMissionStatus, Key: "mission", Payload: message})
		},
		func(p mission.Position) {
			d.bus.Publish(&eventbus.Event{Topic: eventbus.TopicMissionPosition, Key: "mission", Payload: p})
		},
	)

	d.hub.SetHandler(&controlplane.Dispatcher{
		Driver:    d.drv,
		Pipeline:  d.pipeline,
		MarkerDet: d.markerDet,
		Diagnosis: d.diagWF,
		Mission:   d.missionCtl,
		Hub:       d.hub,
	})

	d.relay = bridge.New(bridge.Config{
		Enabled:     cfg.Bridge.Enabled,
		UpstreamURL: cfg.Bridge.UpstreamURL,
		Events:      cfg.Bridge.Events,
	}, d.handleRelayCommand)
	d.hub.SetRelay(func(msg controlplane.Message) {
		d.relay.Forward(bridge.Envelope{Type: msg.Type, Data: msg.Data, Timestamp: msg.Timestamp})
	})

	if cfg.Healthz.Enabled {
		d.healthSrv = healthz.New(d.healthzSnapshot)
	}

	return nil
}

// diagnosisProgressPayload and diagnosisErrorPayload carry the arguments
// of ProgressFunc/ErrorFunc across the event bus, since eventbus.Event
// only holds a single Payload value.
type diagnosisProgressPayload struct {
	PlantID int
	Stage   string
	Message string
	Percent int
}

type diagnosisErrorPayload struct {
	PlantID int
	Err     error
}

// wireEventBus subscribes the publisher as the sole handler for every
// topic the diagnosis workflow and mission controller publish to,
// translating each bus event into the matching HubPublisher call.
func (d *Daemon) wireEventBus() {
	d.bus.Subscribe(eventbus.TopicDiagnosisProgress, func(e *eventbus.Event) error {
		p := e.Payload.(diagnosisProgressPayload)
		d.publisher.PublishDiagnosisProgress(p.PlantID, p.Stage, p.Message, p.Percent)
		return nil
	})
	d.bus.Subscribe(eventbus.TopicDiagnosisComplete, func(e *eventbus.Event) error {
		d.publisher.PublishDiagnosisResult(e.Payload)
		return nil
	})
	d.bus.Subscribe(eventbus.TopicDiagnosisError, func(e *eventbus.Event) error {
		p := e.Payload.(diagnosisErrorPayload)
		d.publisher.PublishDiagnosisError(p.PlantID, p.Err)
		return nil
	})
	d.bus.Subscribe(eventbus.TopicMissionStatus, func(e *eventbus.Event) error {
		d.publisher.PublishMissionStatus(e.Payload.(string))
		return nil
	})
	d.bus.Subscribe(eventbus.TopicMissionPosition, func(e *eventbus.Event) error {
		d.publisher.PublishMissionPosition(e.Payload)
		return nil
	})
}

func (d *Daemon) handleRelayCommand(typ string, data interface{}) {
	dispatcher := &controlplane.Dispatcher{
		Driver: d.drv, Pipeline: d.pipeline, MarkerDet: d.markerDet,
		Diagnosis: d.diagWF, Mission: d.missionCtl, Hub: d.hub,
	}
	dispatcher.Handle(context.Background(), controlplane.Message{Type: typ, Data: data})
}

func (d *Daemon) healthzSnapshot() healthz.Snapshot {
	return healthz.Snapshot{
		DriverConnected: d.drv.IsConnected(),
		PipelineRunning: true,
		MissionPhase:    string(d.missionCtl.Phase()),
	}
}

// bootstrapAIConfig installs the configured default AI provider (if any)
// so a deployment with api_key set in its config file or environment
// doesn't need a set_ai_config call before its first marker observation.
func (d *Daemon) bootstrapAIConfig() {
	ai := d.config.AI
	if ai.Provider == "" || ai.APIKey == "" {
		return
	}
	vlmCfg := vlm.Config{
		Provider: ai.Provider,
		Model:    ai.Model,
		APIKey:   ai.APIKey,
		APIBase:  ai.APIBase,
	}
	if err := vlmCfg.Validate(); err != nil {
		slog.Warn("bootstrap ai config invalid, skipping", "error", err)
		return
	}
	factory, err := plugin.GetProviderFactory("vlm")
	if err != nil {
		slog.Warn("vlm provider factory not registered, skipping ai bootstrap", "error", err)
		return
	}
	adapter, ok := factory().(*vlm.Adapter)
	if !ok {
		return
	}
	adapter.SetConfig(vlmCfg)
	d.diagWF.SetAIConfig(adapter, vlmCfg)
}

// Start initializes logging, the PID file, and every network-facing
// component, then returns; Run blocks afterward.
func (d *Daemon) Start() error {
	slog.Info("starting canopy-agent daemon", "config", d.configPath, "socket", d.socketPath)

	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	go func() {
		defer errs.Guard("frame_pipeline")()
		d.pipeline.Run(d.ctx)
	}()
	go func() {
		defer errs.Guard("status_poll_loop")()
		d.statusPollLoop(d.ctx)
	}()
	d.relay.Start(d.ctx)

	if err := d.startControlPlane(); err != nil {
		return fmt.Errorf("failed to start control plane: %w", err)
	}
	d.startHealthz()

	d.cmdHandler = command.NewCommandHandler(d, d)
	d.cmdHandler.SetShutdownFunc(func() {
		slog.Info("shutdown triggered via daemon_shutdown command")
		close(d.shutdownChan)
	})
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	go func() {
		errs.Supervise("uds_server", d.recoveryMgr, errs.CodeUnknown, func() error {
			if err := d.udsServer.Start(d.ctx); err != nil && err != context.Canceled {
				slog.Error("uds server failed", "error", err)
				return err
			}
			return nil
		})
	}()

	slog.Info("daemon started successfully")
	return nil
}

// controlPlaneBindRetryDelay is how long startControlPlane's registered
// recovery strategy waits before re-attempting net.Listen, giving a
// just-closed prior listener (hot reload, fast restart) time to release
// the port.
const controlPlaneBindRetryDelay = 200 * time.Millisecond

func (d *Daemon) startControlPlane() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", d.config.Control.Port))
	if err != nil {
		return err
	}
	d.controlHTTP = &http.Server{Handler: d.hub}

	d.recoveryMgr.Register(errs.CodeServerBindFailed, func() error {
		time.Sleep(controlPlaneBindRetryDelay)
		relistened, err := net.Listen("tcp", fmt.Sprintf(":%d", d.config.Control.Port))
		if err != nil {
			return err
		}
		ln = relistened
		return nil
	})

	go func() {
		errs.Supervise("control_plane", d.recoveryMgr, errs.CodeServerBindFailed, func() error {
			if err := d.controlHTTP.Serve(ln); err != nil && err != http.ErrServerClosed {
				slog.Error("control plane server failed", "error", err)
				return err
			}
			return nil
		})
	}()
	slog.Info("control plane listening", "port", d.config.Control.Port)
	return nil
}

func (d *Daemon) startHealthz() {
	if d.healthSrv == nil {
		return
	}
	d.healthHTTP = &http.Server{Addr: d.config.Healthz.Listen, Handler: d.healthSrv.Handler()}
	go func() {
		errs.Supervise("healthz", d.recoveryMgr, errs.CodeUnknown, func() error {
			if err := d.healthHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("healthz server failed", "error", err)
				return err
			}
			return nil
		})
	}()
	slog.Info("healthz listening", "addr", d.config.Healthz.Listen)
}

// statusPollLoop is C1's producer: it samples the driver at ~2Hz and lets
// the cache decide whether a drone_status broadcast is warranted.
func (d *Daemon) statusPollLoop(ctx context.Context) {
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollStatusOnce(ctx)
		}
	}
}

func (d *Daemon) pollStatusOnce(ctx context.Context) {
	connected := d.drv.IsConnected()
	status := statuscache.DroneStatus{Connected: connected, MissionPadID: -1}
	if connected {
		if b, err := d.drv.Battery(ctx); err == nil {
			status.Battery = b
		}
		if t, err := d.drv.Temperature(ctx); err == nil {
			status.Temperature = t
		}
		if h, err := d.drv.Height(ctx); err == nil {
			status.HeightCM = h
			status.Flying = h > 10
		}
		if pad, err := d.drv.MissionPadID(ctx); err == nil {
			status.MissionPadID = pad
		}
	}
	if broadcast, _ := d.statusCache.Update(status); broadcast {
		d.publisher.PublishDroneStatus(status)
	}
}

// Stop performs graceful shutdown of every running component.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	d.relay.Stop()
	d.pipeline.Stop()
	if d.missionCtl.IsRunning() {
		d.missionCtl.Stop()
	}
	if d.bus != nil {
		d.bus.Close()
	}

	if d.udsServer != nil {
		d.udsServer.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if d.controlHTTP != nil {
		if err := d.controlHTTP.Shutdown(shutdownCtx); err != nil {
			slog.Error("error stopping control plane server", "error", err)
		}
	}
	if d.healthHTTP != nil {
		if err := d.healthHTTP.Shutdown(shutdownCtx); err != nil {
			slog.Error("error stopping healthz server", "error", err)
		}
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	logpkg.Flush()
	slog.Info("daemon stopped gracefully")
}

// Run blocks until shutdown is triggered by an OS signal, the
// daemon_shutdown admin command, or TriggerShutdown. SIGHUP reloads
// configuration without restarting.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil
			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				} else {
					slog.Info("configuration reloaded successfully")
				}
			}
		case <-d.shutdownChan:
			slog.Info("shutdown triggered by command")
			d.Stop()
			return nil
		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file and hot-applies what can be
// changed without a restart: logging and marker cooldown. Changes to the
// control port and driver address require a process restart and are only
// logged; other settings are not applied until restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	oldLevel, oldFormat := d.config.Log.Level, d.config.Log.Pattern
	old := d.config
	d.config = newConfig

	hotReloaded := []string{}
	if err := d.initLogging(); err != nil {
		slog.Error("failed to reinitialize logging", "error", err)
	} else if newConfig.Log.Level != oldLevel || newConfig.Log.Pattern != oldFormat {
		hotReloaded = append(hotReloaded, "log")
	}

	if newConfig.Marker.CooldownSeconds != old.Marker.CooldownSeconds {
		d.markerDet.SetCooldown(time.Duration(newConfig.Marker.CooldownSeconds) * time.Second)
		hotReloaded = append(hotReloaded, "marker.cooldown_seconds")
	}

	requiresRestart := []string{}
	if newConfig.Control.Port != old.Control.Port {
		requiresRestart = append(requiresRestart, "control.port")
	}
	if newConfig.Driver.Address != old.Driver.Address {
		requiresRestart = append(requiresRestart, "driver.address")
	}

	slog.Info("configuration reloaded", "hot_reloaded", hotReloaded, "requires_restart", requiresRestart)
	return nil
}

// TriggerShutdown requests graceful shutdown from an external caller. The
// request is delivered only if Run is currently waiting; otherwise it is
// dropped. The daemon_shutdown admin command uses its own shutdown func
// registered in Start instead.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Stats implements command.StatsProvider for the daemon_stats admin
// command.
func (d *Daemon) Stats() map[string]interface{} {
	cooldown, active := d.markerDet.CooldownStatus()
	busStats := d.bus.GetStats()
	return map[string]interface{}{
		"driver_connected":  d.drv.IsConnected(),
		"mission_phase":     string(d.missionCtl.Phase()),
		"mission_running":   d.missionCtl.IsRunning(),
		"control_clients":   d.hub.ClientCount(),
		"diagnosis_history": len(d.diagWF.History()),
		"marker_cooldown_s": int(cooldown.Seconds()),
		"marker_active_ids": len(active),
		"event_bus_published": busStats.PublishedCount,
		"event_bus_processed": busStats.ProcessedCount,
	}
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))
	return nil
}

func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}
	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}
