package conversation

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownSpeaker is returned when parsing a speaker name fails.
var ErrUnknownSpeaker = errors.New("unknown speaker")

// Speaker is the party currently holding the shared microphone.
type Speaker string

const (
	SpeakerNone    Speaker = "none"
	SpeakerMe      Speaker = "me"
	SpeakerPartner Speaker = "partner"
)

func ParseSpeaker(s string) (Speaker, error) {
	switch Speaker(strings.ToLower(strings.TrimSpace(s))) {
	case SpeakerNone, "":
		return SpeakerNone, nil
	case SpeakerMe:
		return SpeakerMe, nil
	case SpeakerPartner:
		return SpeakerPartner, nil
	}
	return SpeakerNone, fmt.Errorf("%w: %q", ErrUnknownSpeaker, s)
}

// Other returns the opposite party. None has no counterpart.
func (s Speaker) Other() Speaker {
	switch s {
	case SpeakerMe:
		return SpeakerPartner
	case SpeakerPartner:
		return SpeakerMe
	}
	return SpeakerNone
}

func (s Speaker) Active() bool {
	return s == SpeakerMe || s == SpeakerPartner
}
