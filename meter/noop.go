package meter

import "github.com/ineyio/costgate"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ costgate.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnAcquire(costgate.AcquireEvent)   {}
func (m *NoopMeter) OnReserve(costgate.ReserveEvent)   {}
func (m *NoopMeter) OnFinalize(costgate.FinalizeEvent) {}
func (m *NoopMeter) OnReject(costgate.RejectEvent)     {}
func (m *NoopMeter) OnDrift(costgate.DriftEvent)       {}
