package service

// TriggeredService is a process-less service that, unlike InternalService,
// does not complete its start on its own: once its dependencies are
// satisfied it parks in STARTING until something external calls
// SetTrigger(true).
type TriggeredService struct {
	ServiceRecord
	instantLifecycle

	triggered bool
}

// NewTriggeredService creates a new triggered service.
func NewTriggeredService(set *ServiceSet, name string) *TriggeredService {
	svc := &TriggeredService{}
	svc.ServiceRecord = *NewServiceRecord(svc, set, name, TypeTriggered)
	return svc
}

// BringUp completes the start only if the trigger already fired; otherwise
// the service remains parked in STARTING until SetTrigger(true).
func (s *TriggeredService) BringUp() bool {
	if s.triggered {
		s.Started()
	}
	return true
}

// BringDown stops the service immediately; there is no process to signal.
func (s *TriggeredService) BringDown() {
	s.Stopped()
}

// SetTrigger arms or disarms the trigger. Firing it while the service is
// parked in STARTING with dependencies already satisfied completes the
// start right away.
func (s *TriggeredService) SetTrigger(fire bool) {
	s.triggered = fire
	if fire && s.State() == StateStarting && !s.waitingForDeps {
		s.Started()
	}
}

// IsTriggered reports the current trigger state.
func (s *TriggeredService) IsTriggered() bool {
	return s.triggered
}
