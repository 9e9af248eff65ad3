package conversation

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/clock"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type countingResetter struct {
	mu     sync.Mutex
	resets int
}

func (r *countingResetter) ResetTranscript() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}

func (r *countingResetter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets
}

type commitRecorder struct {
	mu      sync.Mutex
	commits []Commit
}

func (r *commitRecorder) record(c Commit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, c)
}

func (r *commitRecorder) all() []Commit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Commit(nil), r.commits...)
}

func newTestCommitter(t *testing.T) (*Committer, *commitRecorder, *countingResetter, *clock.Manual) {
	t.Helper()
	fake := clock.NewManual(time.Time{})
	resetter := &countingResetter{}
	c := NewCommitter(fake, CommitOptions{
		PunctuationDelay: 800 * time.Millisecond,
		SilenceDelay:     2 * time.Second,
		DuplicateWindow:  5 * time.Second,
	}, resetter, newLogger())
	rec := &commitRecorder{}
	c.OnCommit(rec.record)
	t.Cleanup(c.Close)
	return c, rec, resetter, fake
}

func TestCommitAfterSilence(t *testing.T) {
	c, rec, resetter, fake := newTestCommitter(t)
	c.SetSpeaker(SpeakerMe)
	before := resetter.count()

	c.TranscriptChanged("Hello")
	fake.Advance(1999 * time.Millisecond)
	if len(rec.all()) != 0 {
		t.Fatal("committed before the silence delay elapsed")
	}
	fake.Advance(time.Millisecond)
	commits := rec.all()
	if len(commits) != 1 || commits[0].Text != "Hello" || commits[0].Speaker != SpeakerMe {
		t.Fatalf("unexpected commits %+v", commits)
	}
	if resetter.count() != before+1 {
		t.Fatalf("commit should reset the transcript once, got %d resets", resetter.count()-before)
	}
	if c.Pending() {
		t.Fatal("commit must clear the pending timer")
	}
}

func TestCommitTimerResetsOnUpdate(t *testing.T) {
	c, rec, _, fake := newTestCommitter(t)
	c.SetSpeaker(SpeakerMe)

	c.TranscriptChanged("Hello")
	fake.Advance(time.Second)
	c.TranscriptChanged("Hello there")
	fake.Advance(1500 * time.Millisecond)
	if len(rec.all()) != 0 {
		t.Fatal("timer should have been rescheduled by the second update")
	}
	fake.Advance(10 * time.Second)
	commits := rec.all()
	if len(commits) != 1 || commits[0].Text != "Hello there" {
		t.Fatalf("expected a single commit of the full text, got %+v", commits)
	}
}

func TestCommitPunctuationShortensDelay(t *testing.T) {
	c, rec, _, fake := newTestCommitter(t)
	c.SetSpeaker(SpeakerPartner)

	for _, text := range []string{"How are you?", "元気です。", "Well…"} {
		c.TranscriptChanged(text)
		fake.Advance(800 * time.Millisecond)
	}
	commits := rec.all()
	if len(commits) != 3 {
		t.Fatalf("expected 3 punctuated commits, got %+v", commits)
	}
	if commits[1].Text != "元気です。" || commits[1].Speaker != SpeakerPartner {
		t.Fatalf("unexpected commit %+v", commits[1])
	}
}

func TestCommitSuppressesDuplicateFinal(t *testing.T) {
	c, rec, _, fake := newTestCommitter(t)
	c.SetSpeaker(SpeakerMe)

	c.TranscriptChanged("Hello.")
	fake.Advance(time.Second)
	c.TranscriptChanged("Hello.")
	if c.Pending() {
		t.Fatal("a recent duplicate must not schedule a commit")
	}
	c.Flush()
	if commits := rec.all(); len(commits) != 1 {
		t.Fatalf("flushing a recent duplicate must not commit, got %+v", commits)
	}
}

func TestCommitRepeatAfterDuplicateWindow(t *testing.T) {
	c, rec, _, fake := newTestCommitter(t)
	c.SetSpeaker(SpeakerMe)

	c.TranscriptChanged("Yes.")
	fake.Advance(time.Second)
	fake.Advance(6 * time.Second)

	c.TranscriptChanged(" Yes. ")
	fake.Advance(time.Second)
	commits := rec.all()
	if len(commits) != 2 || commits[1].Text != "Yes." {
		t.Fatalf("a repeat outside the window should commit again, got %+v", commits)
	}
}

func TestCommitStripsCommittedPrefix(t *testing.T) {
	c, rec, _, fake := newTestCommitter(t)
	c.SetSpeaker(SpeakerMe)

	c.TranscriptChanged("Hello.")
	fake.Advance(time.Second)
	c.TranscriptChanged("Hello. How are you?")
	fake.Advance(time.Second)

	commits := rec.all()
	if len(commits) != 2 {
		t.Fatalf("expected two commits, got %+v", commits)
	}
	if commits[1].Text != "How are you?" {
		t.Fatalf("expected only the new suffix, got %q", commits[1].Text)
	}
}

func TestCommitKeepsWordSharingCommittedPrefix(t *testing.T) {
	c, rec, _, fake := newTestCommitter(t)
	c.SetSpeaker(SpeakerMe)

	c.TranscriptChanged("Hello")
	fake.Advance(2 * time.Second)
	c.TranscriptChanged("Helloween party")
	fake.Advance(2 * time.Second)

	commits := rec.all()
	if len(commits) != 2 || commits[1].Text != "Helloween party" {
		t.Fatalf("prefix must only be stripped at a word boundary, got %+v", commits)
	}
}

func TestCommitStripsPrefixBeforeUnspacedSentence(t *testing.T) {
	c, rec, _, fake := newTestCommitter(t)
	c.SetSpeaker(SpeakerPartner)

	c.TranscriptChanged("おはよう。")
	fake.Advance(time.Second)
	c.TranscriptChanged("おはよう。元気ですか？")
	fake.Advance(time.Second)

	commits := rec.all()
	if len(commits) != 2 || commits[1].Text != "元気ですか？" {
		t.Fatalf("expected suffix after sentence end, got %+v", commits)
	}
}

func TestSpeakerSwitchFlushesOnce(t *testing.T) {
	c, rec, _, fake := newTestCommitter(t)
	c.SetSpeaker(SpeakerMe)

	c.TranscriptChanged("Good morning")
	c.SetSpeaker(SpeakerPartner)
	commits := rec.all()
	if len(commits) != 1 || commits[0].Speaker != SpeakerMe || commits[0].Text != "Good morning" {
		t.Fatalf("expected one flush for the previous speaker, got %+v", commits)
	}
	if c.Pending() {
		t.Fatal("flush must cancel the pending timer")
	}
	fake.Advance(10 * time.Second)
	if len(rec.all()) != 1 {
		t.Fatal("no further commit expected after the flush")
	}

	c.TranscriptChanged("おはよう")
	fake.Advance(2 * time.Second)
	commits = rec.all()
	if len(commits) != 2 || commits[1].Speaker != SpeakerPartner {
		t.Fatalf("expected new speaker's commit, got %+v", commits)
	}
}

func TestSpeakerSwitchWithEmptyBuffer(t *testing.T) {
	c, rec, _, fake := newTestCommitter(t)
	c.SetSpeaker(SpeakerMe)
	c.TranscriptChanged("   ")
	c.SetSpeaker(SpeakerPartner)
	c.SetSpeaker(SpeakerNone)
	fake.Advance(10 * time.Second)
	if commits := rec.all(); len(commits) != 0 {
		t.Fatalf("expected no commits, got %+v", commits)
	}
}

func TestCommitIgnoresTranscriptWithoutSpeaker(t *testing.T) {
	c, rec, _, fake := newTestCommitter(t)
	c.TranscriptChanged("stray words")
	fake.Advance(10 * time.Second)
	if c.Pending() || len(rec.all()) != 0 {
		t.Fatal("transcripts without an active speaker must be ignored")
	}
}

func TestFlushCommitsImmediately(t *testing.T) {
	c, rec, _, fake := newTestCommitter(t)
	c.SetSpeaker(SpeakerMe)
	c.TranscriptChanged("one more thing")
	c.Flush()
	if commits := rec.all(); len(commits) != 1 || commits[0].Text != "one more thing" {
		t.Fatalf("unexpected commits %+v", commits)
	}
	fake.Advance(10 * time.Second)
	if len(rec.all()) != 1 {
		t.Fatal("flush must not leave a timer behind")
	}
}

func TestParseSpeaker(t *testing.T) {
	if s, err := ParseSpeaker("Partner"); err != nil || s != SpeakerPartner {
		t.Fatalf("unexpected %q %v", s, err)
	}
	if s, err := ParseSpeaker(""); err != nil || s != SpeakerNone {
		t.Fatalf("unexpected %q %v", s, err)
	}
	if _, err := ParseSpeaker("them"); err == nil {
		t.Fatal("expected error for unknown speaker")
	}
	if SpeakerMe.Other() != SpeakerPartner || SpeakerNone.Other() != SpeakerNone {
		t.Fatal("unexpected counterpart")
	}
}
