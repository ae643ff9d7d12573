package service

import (
	"fmt"
	"time"
)

// ServiceLogger is the interface for logging service events.
type ServiceLogger interface {
	ServiceStarted(name string)
	ServiceStopped(name string)
	ServiceFailed(name string, depFailed bool)
	Error(format string, args ...interface{})
	Info(format string, args ...interface{})
}

// ServiceLoader is the interface for loading service descriptions from
// files and re-resolving them against a live ServiceSet on reload.
type ServiceLoader interface {
	LoadService(name string) (Service, error)
	ReloadService(svc Service) (Service, error)
	ServiceDirs() []string
}

// ServiceNotFound is returned when a requested service cannot be found.
type ServiceNotFound struct {
	Name string
}

func (e *ServiceNotFound) Error() string {
	return fmt.Sprintf("service not found: %s", e.Name)
}

// fifo is a plain FIFO queue. ServiceSet keeps three of these (propagation,
// transition, console), all of Service values, so the shift-off-the-front
// bookkeeping lives here once instead of three times.
type fifo[T any] struct {
	items []T
}

func (q *fifo[T]) push(v T) {
	q.items = append(q.items, v)
}

func (q *fifo[T]) pop() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items = q.items[1:]
	return v, true
}

func (q *fifo[T]) remove(match func(T) bool) {
	for i, v := range q.items {
		if match(v) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func (q *fifo[T]) len() int {
	return len(q.items)
}

// ServiceSet manages all loaded services and the processing queues that
// drive propagation, transition, and console-access scheduling.
type ServiceSet struct {
	records        map[string]Service
	activeServices int
	restartEnabled bool
	shutdownType   ShutdownType

	propQueue    fifo[Service]
	stopQueue    fifo[Service]
	consoleQueue fifo[Service]

	loader ServiceLoader
	logger ServiceLogger

	// Boot timing
	bootStartTime   time.Time     // when supervisord started (userspace begins)
	bootReadyTime   time.Time     // when boot service reached STARTED
	bootServiceName string        // name of the boot target service
	kernelUptime    time.Duration // kernel uptime at supervisord start
}

// NewServiceSet creates a new ServiceSet.
func NewServiceSet(logger ServiceLogger) *ServiceSet {
	return &ServiceSet{
		records:        make(map[string]Service),
		restartEnabled: true,
		logger:         logger,
	}
}

// SetLoader sets the service loader for this set.
func (ss *ServiceSet) SetLoader(loader ServiceLoader) {
	ss.loader = loader
}

// FindService locates an existing service by name.
// If findPlaceholders is false, placeholder services are excluded.
func (ss *ServiceSet) FindService(name string, findPlaceholders bool) Service {
	svc, ok := ss.records[name]
	if !ok {
		return nil
	}
	if !findPlaceholders && svc.Type() == TypePlaceholder {
		return nil
	}
	return svc
}

// LoadService loads a service (and its dependencies) by name.
func (ss *ServiceSet) LoadService(name string) (Service, error) {
	if svc := ss.FindService(name, false); svc != nil {
		return svc, nil
	}
	if ss.loader != nil {
		return ss.loader.LoadService(name)
	}
	return nil, &ServiceNotFound{Name: name}
}

// AddService adds a service to the set, keyed by name. A second call with
// a service of the same name replaces the first — ReloadService relies on
// this to swap a service's record in place when its type changes.
func (ss *ServiceSet) AddService(svc Service) {
	ss.records[svc.Name()] = svc
}

// RemoveService removes a service from the set.
func (ss *ServiceSet) RemoveService(svc Service) {
	delete(ss.records, svc.Name())
}

// ListServices returns all loaded services.
func (ss *ServiceSet) ListServices() []Service {
	result := make([]Service, 0, len(ss.records))
	for _, svc := range ss.records {
		result = append(result, svc)
	}
	return result
}

// StartService starts a service and processes queues.
func (ss *ServiceSet) StartService(svc Service) {
	svc.Start()
	ss.ProcessQueues()
}

// StopService stops a service and processes queues.
func (ss *ServiceSet) StopService(svc Service) {
	svc.Stop(true)
	ss.ProcessQueues()
}

// StopAllServices stops every service, unpins it, and drains the resulting
// transitions. Used for full supervisor shutdown.
func (ss *ServiceSet) StopAllServices(shutdownType ShutdownType) {
	ss.restartEnabled = false
	ss.shutdownType = shutdownType
	for _, svc := range ss.records {
		svc.Stop(false)
		svc.Unpin()
	}
	ss.ProcessQueues()
}

// --- Queue management ---

// AddPropQueue adds a service to the propagation queue, deduplicating
// against a record already pending in it.
func (ss *ServiceSet) AddPropQueue(svc Service) {
	rec := svc.Record()
	if !rec.InPropQueue {
		rec.InPropQueue = true
		ss.propQueue.push(svc)
	}
}

// AddTransitionQueue adds a service to the transition queue, deduplicating
// against a record already pending in it.
func (ss *ServiceSet) AddTransitionQueue(svc Service) {
	rec := svc.Record()
	if !rec.InStopQueue {
		rec.InStopQueue = true
		ss.stopQueue.push(svc)
	}
}

// ProcessQueues drains the propagation queue fully before taking one entry
// off the transition queue, repeating until both are empty. Propagation
// runs to a fixed point first so that a transition never acts on a record
// that still has a pending dependency update in flight.
func (ss *ServiceSet) ProcessQueues() {
	for ss.propQueue.len() > 0 || ss.stopQueue.len() > 0 {
		for {
			svc, ok := ss.propQueue.pop()
			if !ok {
				break
			}
			svc.Record().InPropQueue = false
			svc.Record().RunPropagation()
		}
		if svc, ok := ss.stopQueue.pop(); ok {
			svc.Record().InStopQueue = false
			svc.Record().RunTransition()
		}
	}
}

// --- Console queue ---

// AppendConsoleQueue adds a service to the console wait queue.
func (ss *ServiceSet) AppendConsoleQueue(svc Service) {
	ss.consoleQueue.push(svc)
}

// PullConsoleQueue dispatches the next service waiting for the console.
func (ss *ServiceSet) PullConsoleQueue() {
	if front, ok := ss.consoleQueue.pop(); ok {
		front.Record().ConsoleGranted()
	}
}

// UnqueueConsole removes a service from the console queue, if present.
func (ss *ServiceSet) UnqueueConsole(svc Service) {
	ss.consoleQueue.remove(func(s Service) bool { return s == svc })
}

// --- Active service tracking ---

// ServiceActive increments the active service count.
func (ss *ServiceSet) ServiceActive(svc Service) {
	ss.activeServices++
}

// ServiceInactive decrements the active service count.
func (ss *ServiceSet) ServiceInactive(svc Service) {
	ss.activeServices--
}

// CountActiveServices returns the number of active services.
func (ss *ServiceSet) CountActiveServices() int {
	return ss.activeServices
}

// IsShuttingDown returns true if automatic restart is disabled (shutdown in progress).
func (ss *ServiceSet) IsShuttingDown() bool {
	return !ss.restartEnabled
}

// GetShutdownType returns the current shutdown type.
func (ss *ServiceSet) GetShutdownType() ShutdownType {
	return ss.shutdownType
}

// --- Boot timing ---

func (ss *ServiceSet) SetBootStartTime(t time.Time)    { ss.bootStartTime = t }
func (ss *ServiceSet) SetBootServiceName(name string)  { ss.bootServiceName = name }
func (ss *ServiceSet) SetKernelUptime(d time.Duration) { ss.kernelUptime = d }

func (ss *ServiceSet) BootStartTime() time.Time    { return ss.bootStartTime }
func (ss *ServiceSet) BootReadyTime() time.Time    { return ss.bootReadyTime }
func (ss *ServiceSet) BootServiceName() string     { return ss.bootServiceName }
func (ss *ServiceSet) KernelUptime() time.Duration { return ss.kernelUptime }
