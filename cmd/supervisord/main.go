// supervisord is a dependency-aware service manager and init system.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashgrove/supervisor/pkg/api"
	"github.com/ashgrove/supervisor/pkg/daemoncfg"
	"github.com/ashgrove/supervisor/pkg/eventloop"
	"github.com/ashgrove/supervisor/pkg/logging"
	"github.com/ashgrove/supervisor/pkg/metrics"
	"github.com/ashgrove/supervisor/pkg/service"
	"github.com/ashgrove/supervisor/pkg/shutdown"
	"github.com/ashgrove/supervisor/pkg/svcconf"
)

const (
	version = "0.1.0"

	defaultSystemServiceDir = "/etc/supervisor.d"
	defaultUserServiceDir   = ".config/supervisor.d"
)

func main() {
	bootStartTime := time.Now()

	var (
		serviceDirs string
		configFile  string
		apiAddr     string
		systemMode  bool
		userMode    bool
		bootService string
		showVersion bool
		logLevel    string
	)

	flag.StringVar(&serviceDirs, "services-dir", "", "service description directory (comma-separated for multiple)")
	flag.StringVar(&configFile, "config", "", "daemon config file (YAML)")
	flag.StringVar(&apiAddr, "api-addr", "", "HTTP control API listen address")
	flag.BoolVar(&systemMode, "system", false, "run as system service manager")
	flag.BoolVar(&userMode, "user", false, "run as user service manager")
	flag.StringVar(&bootService, "boot-service", "", "name of the boot service to start")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, notice, warn, error)")

	flag.Parse()

	if showVersion {
		fmt.Printf("supervisord version %s\n", version)
		os.Exit(0)
	}

	cfg, err := daemoncfg.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if bootService != "" {
		cfg.BootService = bootService
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if apiAddr != "" {
		cfg.API.Address = apiAddr
	}

	isPID1 := os.Getpid() == 1
	if isPID1 {
		systemMode = true
	}
	if !systemMode && !userMode {
		userMode = true
	}

	level := parseLogLevel(cfg.LogLevel)
	logger := logging.New(level)

	if isPID1 {
		logger.Notice("supervisord starting as PID 1 (init system mode)")
		if err := shutdown.InitPID1(logger); err != nil {
			logger.Error("PID 1 initialization warning: %v", err)
		}
	} else if systemMode {
		logger.Notice("supervisord starting in system mode")
	} else {
		logger.Info("supervisord starting in user mode")
	}

	dirs := resolveServiceDirs(serviceDirs, cfg, systemMode)
	logger.Info("Service directories: %v", dirs)

	serviceSet := service.NewServiceSet(logger)

	serviceSet.SetBootStartTime(bootStartTime)
	serviceSet.SetBootServiceName(cfg.BootService)
	if uptime, err := readKernelUptime(); err == nil {
		serviceSet.SetKernelUptime(uptime)
	}

	loader := config.NewLoader(serviceSet, dirs)
	serviceSet.SetLoader(loader)

	collector := metrics.New()

	bootSvc, err := serviceSet.LoadService(cfg.BootService)
	if err != nil {
		logger.Error("Failed to load boot service '%s': %v", cfg.BootService, err)
		if isPID1 {
			logger.Error("Cannot proceed without boot service in init mode")
			select {}
		}
		os.Exit(1)
	}

	for _, svc := range serviceSet.ListServices() {
		svc.Record().AddListener(collector)
	}

	serviceSet.StartService(bootSvc)
	logger.Info("Boot service '%s' started", cfg.BootService)

	ctx := context.Background()

	loop := eventloop.New(serviceSet, logger)

	if isPID1 {
		loop.SetPID1Mode(true)
	}

	apiServer := api.New(serviceSet, collector)
	apiServer.ShutdownFunc = func(st service.ShutdownType) {
		loop.InitiateShutdown(st)
	}
	if err := apiServer.Start(cfg.API.Address); err != nil {
		logger.Error("Failed to start control API on %s: %v", cfg.API.Address, err)
	} else {
		logger.Info("Control API listening on %s", cfg.API.Address)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	if err := loop.Run(ctx); err != nil {
		if err == context.Canceled {
			logger.Info("Event loop cancelled")
		} else {
			logger.Error("Event loop error: %v", err)
		}
	}

	shutdownType := loop.GetShutdownType()

	if isPID1 {
		handlePID1Shutdown(shutdownType, logger)
	}

	logger.Info("supervisord shutdown complete")
}

// handlePID1Shutdown performs the appropriate system action after all services
// have stopped when running as PID 1. This function does not return.
func handlePID1Shutdown(shutdownType service.ShutdownType, logger *logging.Logger) {
	switch shutdownType {
	case service.ShutdownNone:
		logger.Error("Boot failure detected, attempting reboot")
		shutdown.Execute(service.ShutdownReboot, logger)

	case service.ShutdownSoftReboot:
		logger.Notice("Performing soft reboot")
		if err := shutdown.SoftReboot(logger); err != nil {
			logger.Error("Soft reboot failed: %v, falling back to hard reboot", err)
			shutdown.Execute(service.ShutdownReboot, logger)
		}
		shutdown.InfiniteHold()

	case service.ShutdownHalt, service.ShutdownPoweroff, service.ShutdownReboot:
		shutdown.Execute(shutdownType, logger)

	case service.ShutdownRemain:
		logger.Notice("Shutdown type is REMAIN, staying up with no services")
		shutdown.InfiniteHold()

	default:
		logger.Error("Unknown shutdown type: %s, halting", shutdownType)
		shutdown.Execute(service.ShutdownHalt, logger)
	}
}

func parseLogLevel(s string) logging.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "info":
		return logging.LevelInfo
	case "notice":
		return logging.LevelNotice
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func resolveServiceDirs(flagValue string, cfg daemoncfg.Config, systemMode bool) []string {
	if flagValue != "" {
		return strings.Split(flagValue, ",")
	}
	if len(cfg.ServiceDirs) > 0 {
		return cfg.ServiceDirs
	}

	if systemMode {
		return []string{defaultSystemServiceDir}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return []string{defaultUserServiceDir}
	}
	return []string{home + "/" + defaultUserServiceDir}
}

// readKernelUptime reads /proc/uptime and returns the system uptime duration,
// the time from kernel boot to when supervisord started.
func readKernelUptime() (time.Duration, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("unexpected /proc/uptime format")
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}
