package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashgrove/supervisor/pkg/service"
)

// Loader resolves service names to on-disk description files under a
// search path and wires the resulting records into a ServiceSet,
// recursing into dependencies as it goes.
type Loader struct {
	searchPath []string
	set        *service.ServiceSet
	inFlight   map[string]bool // names currently being resolved, for cycle detection
}

// NewLoader creates a service loader that searches searchPath, in order,
// for a description file named after each service.
func NewLoader(set *service.ServiceSet, searchPath []string) *Loader {
	return &Loader{
		searchPath: searchPath,
		set:        set,
		inFlight:   make(map[string]bool),
	}
}

// ServiceDirs returns the configured service directories.
func (l *Loader) ServiceDirs() []string {
	return l.searchPath
}

// LoadService returns the named service, loading and wiring it (and its
// transitive dependencies) on first reference.
func (l *Loader) LoadService(name string) (service.Service, error) {
	// A name still being resolved is already in the set, half-wired, so
	// the cycle check has to come before the lookup.
	if l.inFlight[name] {
		return nil, &ServiceLoadError{ServiceName: name, Message: "circular dependency detected"}
	}
	if svc := l.set.FindService(name, false); svc != nil {
		return svc, nil
	}
	return l.resolve(name)
}

func (l *Loader) resolve(name string) (service.Service, error) {
	if l.inFlight[name] {
		return nil, &ServiceLoadError{ServiceName: name, Message: "circular dependency detected"}
	}
	l.inFlight[name] = true
	defer delete(l.inFlight, name)

	desc, path, err := l.readDescription(name)
	if err != nil {
		return nil, err
	}

	svc := instantiate(l.set, name, desc)
	l.set.AddService(svc)

	pairs, err := l.resolveDepPairs(desc, path)
	if err != nil {
		l.set.RemoveService(svc)
		return nil, err
	}
	for _, p := range pairs {
		svc.Record().AddDep(p.target, p.depType)
	}

	applySettings(svc, desc)
	return svc, nil
}

// ReloadService re-parses name's description file and applies the new
// settings to the running service record. A type change or a console-mode
// change is only permitted while the service is stopped, since both alter
// assumptions the running state machine has already committed to; a type
// change replaces the record entirely, and every existing dependent is
// re-pointed at the replacement. Any change that would introduce a
// dependency cycle is rejected and the service is left untouched.
func (l *Loader) ReloadService(svc service.Service) (service.Service, error) {
	name := svc.Name()
	desc, path, err := l.readDescription(name)
	if err != nil {
		return nil, err
	}

	rec := svc.Record()
	running := svc.State() != service.StateStopped
	typeChanged := desc.Type != svc.Type()
	consoleChanged := desc.Flags.RunsOnConsole != rec.Flags.RunsOnConsole ||
		desc.Flags.StartsOnConsole != rec.Flags.StartsOnConsole ||
		desc.Flags.SharesConsole != rec.Flags.SharesConsole

	if running && typeChanged {
		return nil, fmt.Errorf("service '%s': cannot change type while running", name)
	}
	if running && consoleChanged {
		return nil, fmt.Errorf("service '%s': cannot change console mode while running", name)
	}

	if typeChanged {
		return l.reloadWithNewType(svc, desc, path)
	}
	return svc, l.reloadInPlace(svc, desc, path)
}

// reloadInPlace validates the new dependency set against cycles before
// committing anything, then swaps the record's dependencies and settings.
func (l *Loader) reloadInPlace(svc service.Service, desc *ServiceDescription, path string) error {
	pairs, err := l.resolveDepPairs(desc, path)
	if err != nil {
		return err
	}
	if err := guardAgainstCycles(svc.Name(), pairs); err != nil {
		return err
	}

	rec := svc.Record()
	for _, old := range append([]*service.ServiceDep(nil), rec.Dependencies()...) {
		rec.RmDep(old.To, old.DepType)
	}
	for _, p := range pairs {
		rec.AddDep(p.target, p.depType)
	}

	applyTypeSettings(svc, desc)
	applySettings(svc, desc)
	return nil
}

// reloadWithNewType builds a fresh Service of the new type, validates its
// dependency set, then transplants the old service's dependents onto it
// and installs it under the same name.
func (l *Loader) reloadWithNewType(svc service.Service, desc *ServiceDescription, path string) (service.Service, error) {
	pairs, err := l.resolveDepPairs(desc, path)
	if err != nil {
		return nil, err
	}
	if err := guardAgainstCycles(svc.Name(), pairs); err != nil {
		return nil, err
	}

	newSvc := instantiate(l.set, svc.Name(), desc)
	for _, p := range pairs {
		newSvc.Record().AddDep(p.target, p.depType)
	}
	applySettings(newSvc, desc)

	dependents := svc.Record().Dependents()
	for _, d := range dependents {
		d.To = newSvc
	}
	newSvc.Record().SetDependents(dependents)

	for _, old := range append([]*service.ServiceDep(nil), svc.Record().Dependencies()...) {
		svc.Record().RmDep(old.To, old.DepType)
	}

	l.set.AddService(newSvc)
	return newSvc, nil
}

// guardAgainstCycles reports an error if any of pairs' targets can reach
// a service named self through their own dependency graph — meaning
// wiring pairs onto self would close a cycle.
func guardAgainstCycles(self string, pairs []depPair) error {
	visited := make(map[service.Service]bool)
	var reaches func(svc service.Service) bool
	reaches = func(svc service.Service) bool {
		if svc.Name() == self {
			return true
		}
		if visited[svc] {
			return false
		}
		visited[svc] = true
		for _, dep := range svc.Record().Dependencies() {
			if reaches(dep.To) {
				return true
			}
		}
		return false
	}

	for _, p := range pairs {
		if reaches(p.target) {
			return fmt.Errorf("service '%s': would create a dependency cycle through '%s'", self, p.target.Name())
		}
	}
	return nil
}

func (l *Loader) readDescription(name string) (*ServiceDescription, string, error) {
	for _, dir := range l.searchPath {
		path := filepath.Join(dir, name)
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, "", &ServiceLoadError{ServiceName: name, Message: fmt.Sprintf("reading %s: %v", path, err)}
		}
		desc, err := Parse(f, name, path)
		f.Close()
		if err != nil {
			return nil, "", err
		}
		return desc, path, nil
	}
	return nil, "", &ServiceLoadError{ServiceName: name, Message: "service description not found"}
}

// instantiate creates the concrete Service implementation for desc's
// type and copies over its type-specific settings.
func instantiate(set *service.ServiceSet, name string, desc *ServiceDescription) service.Service {
	var svc service.Service
	switch desc.Type {
	case service.TypeProcess:
		svc = service.NewProcessService(set, name)
	case service.TypeBGProcess:
		svc = service.NewBGProcessService(set, name)
	case service.TypeScripted:
		svc = service.NewScriptedService(set, name)
	case service.TypeTriggered:
		svc = service.NewTriggeredService(set, name)
	default: // TypeInternal, or anything unrecognized
		svc = service.NewInternalService(set, name)
	}
	applyTypeSettings(svc, desc)
	return svc
}

// applyTypeSettings copies desc's type-specific fields onto svc's
// concrete type. It is a no-op for kinds (Internal, Triggered) that take
// no configuration of their own.
func applyTypeSettings(svc service.Service, desc *ServiceDescription) {
	switch s := svc.(type) {
	case *service.ProcessService:
		s.SetCommand(desc.Command)
		s.SetStopCommand(desc.StopCommand)
		s.SetWorkingDir(desc.WorkingDir)
		s.SetEnvFile(desc.EnvFile)
		applyTimeouts(desc, s.SetStartTimeout, s.SetStopTimeout)
		if desc.RestartInterval > 0 || desc.RestartLimitCount > 0 {
			s.SetRestartLimits(desc.RestartInterval, desc.RestartLimitCount)
		}

	case *service.BGProcessService:
		s.SetCommand(desc.Command)
		s.SetStopCommand(desc.StopCommand)
		s.SetWorkingDir(desc.WorkingDir)
		s.SetEnvFile(desc.EnvFile)
		s.SetPIDFile(desc.PIDFile)
		s.SetLogType(desc.LogType)
		s.SetLogBufMax(desc.LogBufMax)
		applyTimeouts(desc, s.SetStartTimeout, s.SetStopTimeout)
		if desc.RestartDelay > 0 {
			s.SetRestartDelay(desc.RestartDelay)
		}
		if desc.RestartInterval > 0 || desc.RestartLimitCount > 0 {
			s.SetRestartLimits(desc.RestartInterval, desc.RestartLimitCount)
		}

	case *service.ScriptedService:
		s.SetStartCommand(desc.Command)
		s.SetStopCommand(desc.StopCommand)
		s.SetWorkingDir(desc.WorkingDir)
		applyTimeouts(desc, s.SetStartTimeout, s.SetStopTimeout)
	}
}

func applyTimeouts(desc *ServiceDescription, setStart, setStop func(d time.Duration)) {
	if desc.StartTimeout > 0 {
		setStart(desc.StartTimeout)
	}
	if desc.StopTimeout > 0 {
		setStop(desc.StopTimeout)
	}
}

// depEdge is one dependency reference collected from a description,
// either a bare name or a directory of names, waiting to be resolved.
type depEdge struct {
	names   []string
	dirs    []string
	depType service.DependencyType
}

func depEdges(desc *ServiceDescription) []depEdge {
	return []depEdge{
		{names: desc.DependsOn, dirs: desc.DependsOnD, depType: service.DepRegular},
		{names: desc.DependsMS, dirs: desc.DependsMSD, depType: service.DepMilestone},
		{names: desc.WaitsFor, dirs: desc.WaitsForD, depType: service.DepWaitsFor},
		{names: desc.Before, depType: service.DepBefore},
		{names: desc.After, depType: service.DepAfter},
	}
}

// depPair is a fully resolved dependency: a live target service and the
// edge type it should be attached with.
type depPair struct {
	target  service.Service
	depType service.DependencyType
}

// resolveDepPairs loads (recursing as needed) every dependency named or
// listed in desc, without mutating any service's dependency graph. The
// caller decides when and whether to commit the results.
func (l *Loader) resolveDepPairs(desc *ServiceDescription, descPath string) ([]depPair, error) {
	var pairs []depPair

	loadOne := func(name string, depType service.DependencyType) error {
		target, err := l.LoadService(name)
		if err != nil {
			return fmt.Errorf("loading dependency '%s' for service '%s': %w", name, desc.Name, err)
		}
		pairs = append(pairs, depPair{target: target, depType: depType})
		return nil
	}

	for _, edge := range depEdges(desc) {
		for _, name := range edge.names {
			if err := loadOne(name, edge.depType); err != nil {
				return nil, err
			}
		}
		for _, dir := range edge.dirs {
			resolved := dir
			if !filepath.IsAbs(resolved) {
				resolved = filepath.Join(filepath.Dir(descPath), dir)
			}
			entries, err := os.ReadDir(resolved)
			if err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return nil, fmt.Errorf("reading dependency directory %s: %w", resolved, err)
			}
			for _, entry := range entries {
				if entry.IsDir() || entry.Name()[0] == '.' {
					continue
				}
				if err := loadOne(entry.Name(), edge.depType); err != nil {
					return nil, err
				}
			}
		}
	}

	return pairs, nil
}

// applySettings copies the settings common to every service kind onto
// the record.
func applySettings(svc service.Service, desc *ServiceDescription) {
	rec := svc.Record()
	rec.SetAutoRestart(desc.AutoRestart)
	rec.SetSmoothRecovery(desc.SmoothRecovery)
	rec.SetFlags(desc.Flags)
	rec.SetTermSignal(desc.TermSignal)
	if desc.ChainTo != "" {
		rec.SetChainTo(desc.ChainTo)
	}
	if desc.SocketPath != "" {
		rec.SetSocketDetails(desc.SocketPath, desc.SocketPerms)
	}
}

// ServiceLoadError represents a service loading failure.
type ServiceLoadError struct {
	ServiceName string
	Message     string
}

func (e *ServiceLoadError) Error() string {
	return fmt.Sprintf("service '%s': %s", e.ServiceName, e.Message)
}
