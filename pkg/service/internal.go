package service

// instantLifecycle is embedded by service kinds that have no external
// process to wait on, so a start or stop can never be in-flight and is
// always safe to interrupt.
type instantLifecycle struct{}

// CanInterruptStart always succeeds: there is nothing running to race with.
func (instantLifecycle) CanInterruptStart() bool { return true }

// InterruptStart always succeeds immediately.
func (instantLifecycle) InterruptStart() bool { return true }

// InternalService models a service with no external process: it reaches
// STARTED the moment its dependencies are satisfied and its BringUp is
// invoked, and STOPPED as soon as BringDown is invoked. Useful as a
// grouping node (a "target") that exists purely to pull in dependencies.
type InternalService struct {
	ServiceRecord
	instantLifecycle
}

// NewInternalService creates a new internal (process-less) service.
func NewInternalService(set *ServiceSet, name string) *InternalService {
	svc := &InternalService{}
	svc.ServiceRecord = *NewServiceRecord(svc, set, name, TypeInternal)
	return svc
}

// BringUp marks the service STARTED; there is no process to launch.
func (s *InternalService) BringUp() bool {
	s.Started()
	return true
}

// BringDown marks the service STOPPED; there is no process to signal.
func (s *InternalService) BringDown() {
	s.Stopped()
}
