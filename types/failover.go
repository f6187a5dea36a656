package types

import "sync/atomic"

// DegradedFlags is the process-wide degraded-mode state. All flags start
// cleared. Writes happen only through the failover controller; reads are
// lock-free and may come from any goroutine on the request path.
type DegradedFlags struct {
	generationDisabled atomic.Bool
	remoteBypassed     atomic.Bool
	edgeBypassed       atomic.Bool
}

func (f *DegradedFlags) GenerationDisabled() bool { return f.generationDisabled.Load() }
func (f *DegradedFlags) RemoteBypassed() bool     { return f.remoteBypassed.Load() }
func (f *DegradedFlags) EdgeBypassed() bool       { return f.edgeBypassed.Load() }

func (f *DegradedFlags) SetGenerationDisabled(v bool) { f.generationDisabled.Store(v) }
func (f *DegradedFlags) SetRemoteBypassed(v bool)     { f.remoteBypassed.Store(v) }
func (f *DegradedFlags) SetEdgeBypassed(v bool)       { f.edgeBypassed.Store(v) }

func (f *DegradedFlags) Normal() bool {
	return !f.generationDisabled.Load() && !f.remoteBypassed.Load() && !f.edgeBypassed.Load()
}

type FailoverController interface {
	HealthObserver
	Flags() *DegradedFlags
	ActiveSynthesis() SpeechSynthesisProvider
}
