package protocol

import "time"

// RecognitionControl asks a remote STT service to start or stop listening.
type RecognitionControl struct {
	SessionID      string    `json:"session_id"`
	Language       string    `json:"language,omitempty"`
	Continuous     bool      `json:"continuous,omitempty"`
	InterimResults bool      `json:"interim_results,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
}

// RecognitionFault carries a recognizer error kind such as "network".
type RecognitionFault struct {
	SessionID string    `json:"session_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// RecognitionEnd reports that the remote recognizer stopped on its own.
type RecognitionEnd struct {
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageEvent describes a conversation message lifecycle step.
type MessageEvent struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Speaker        string    `json:"speaker"`
	Original       string    `json:"original"`
	Translated     string    `json:"translated,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Failed         bool      `json:"failed,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// MicrophoneEvent reports the host turning the microphone off by policy.
type MicrophoneEvent struct {
	ConversationID string    `json:"conversation_id"`
	Reason         string    `json:"reason"`
	Speaker        string    `json:"speaker,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

const (
	SubjectRecognitionStart  = "stt.control.start"
	SubjectRecognitionStop   = "stt.control.stop"
	SubjectTranscriptPartial = "stt.text.partial"
	SubjectTranscriptFinal   = "stt.text.final"
	SubjectRecognitionError  = "stt.error"
	SubjectRecognitionEnd    = "stt.end"

	SubjectMessageCommitted  = "interpreter.message.committed"
	SubjectMessageTranslated = "interpreter.message.translated"
	SubjectMicrophoneStopped = "interpreter.mic.stopped"
)
