package recognition

// FaultKind names a recognizer error as reported by the platform.
type FaultKind string

const (
	FaultNoSpeech             FaultKind = "no-speech"
	FaultAborted              FaultKind = "aborted"
	FaultAudioCapture         FaultKind = "audio-capture"
	FaultNetwork              FaultKind = "network"
	FaultNotAllowed           FaultKind = "not-allowed"
	FaultServiceNotAllowed    FaultKind = "service-not-allowed"
	FaultLanguageNotSupported FaultKind = "language-not-supported"
)

// Recoverable reports whether a restart is expected to clear the fault.
// Unknown kinds are fatal.
func (k FaultKind) Recoverable() bool {
	switch k {
	case FaultNoSpeech, FaultAborted, FaultAudioCapture, FaultNetwork:
		return true
	default:
		return false
	}
}
