package submission

import (
	"errors"
	"testing"
	"time"
)

func TestValidity(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := now.Add(-time.Minute)
	after := now.Add(time.Minute)

	tests := []struct {
		name string
		r    Respondent
		want string
	}{
		{name: "unbounded", r: Respondent{}, want: ValidityValid},
		{name: "inside", r: Respondent{ValidFrom: &before, ValidUntil: &after}, want: ValidityValid},
		{name: "only from passed", r: Respondent{ValidFrom: &before}, want: ValidityValid},
		{name: "not yet", r: Respondent{ValidFrom: &after}, want: ValidityNotYetValid},
		{name: "expired", r: Respondent{ValidUntil: &before}, want: ValidityExpired},
		{name: "bounds inclusive", r: Respondent{ValidFrom: &now, ValidUntil: &now}, want: ValidityValid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Validity(tc.r, now); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestPlanWrite(t *testing.T) {
	now := time.Now()
	draft := &Submission{Status: SubmissionDraft, Revision: 3}
	final := &Submission{Status: SubmissionSubmitted, Revision: 4}
	three := int64(3)
	zero := int64(0)

	tests := []struct {
		name      string
		sub       *Submission
		kind      writeKind
		resubmit  bool
		expected  *int64
		wantErr   error
		wantSub   string
		wantResp  string
		wantStamp bool
		wantNew   bool
	}{
		{name: "first autosave", kind: writeAutosave, wantSub: SubmissionDraft, wantResp: StatusInProgress, wantNew: true},
		{name: "first submit", kind: writeSubmit, wantSub: SubmissionSubmitted, wantResp: StatusSubmitted, wantStamp: true, wantNew: true},
		{name: "autosave draft", sub: draft, kind: writeAutosave, wantSub: SubmissionDraft, wantResp: StatusInProgress},
		{name: "autosave after submit", sub: final, kind: writeAutosave, wantErr: ErrAlreadySubmitted},
		{name: "submit after submit", sub: final, kind: writeSubmit, wantErr: ErrAlreadySubmitted},
		{name: "reopen with resubmit", sub: final, kind: writeAutosave, resubmit: true, wantSub: SubmissionDraft, wantResp: StatusInProgress},
		{name: "resubmit", sub: final, kind: writeSubmit, resubmit: true, wantSub: SubmissionSubmitted, wantResp: StatusSubmitted, wantStamp: true},
		{name: "matching revision", sub: draft, kind: writeAutosave, expected: &three, wantSub: SubmissionDraft, wantResp: StatusInProgress},
		{name: "stale revision", sub: final, kind: writeSubmit, resubmit: true, expected: &three, wantErr: ErrStaleRevision},
		{name: "revision zero for new", kind: writeAutosave, expected: &zero, wantSub: SubmissionDraft, wantResp: StatusInProgress, wantNew: true},
		{name: "revision for missing submission", kind: writeAutosave, expected: &three, wantErr: ErrStaleRevision},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := planWrite(Respondent{Status: StatusInvited}, tc.sub, tc.kind, tc.resubmit, tc.expected, now)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.submissionStatus != tc.wantSub || p.respondentStatus != tc.wantResp || p.stampSubmittedAt != tc.wantStamp || p.create != tc.wantNew {
				t.Fatalf("unexpected plan %+v", p)
			}
		})
	}
}

func TestCheckAttach(t *testing.T) {
	now := time.Now()
	if err := checkAttach(Respondent{}, nil, now); err != nil {
		t.Fatalf("attach without submission should pass, got %v", err)
	}
	if err := checkAttach(Respondent{}, &Submission{Status: SubmissionSubmitted}, now); !errors.Is(err, ErrFilesFrozen) {
		t.Fatalf("expected ErrFilesFrozen, got %v", err)
	}
	if err := checkAttach(Respondent{Locked: true}, nil, now); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

func TestHashTokenNormalizes(t *testing.T) {
	if HashToken("abcd2345") != HashToken(" ABCD2345 ") {
		t.Fatalf("token hash should ignore case and surrounding space")
	}
	if len(HashToken("X")) != 64 {
		t.Fatalf("expected hex sha256")
	}
}
