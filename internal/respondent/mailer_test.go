package respondent

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
)

func TestNewSMTPMailerRequiresHostPortFrom(t *testing.T) {
	if m := NewSMTPMailer(SMTPConfig{Host: "", Port: 25, From: "drp@example.cz"}); m != nil {
		t.Fatalf("expected nil mailer without host")
	}
	if m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.cz", Port: 0, From: "drp@example.cz"}); m != nil {
		t.Fatalf("expected nil mailer without port")
	}
	if m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.cz", Port: 587, From: "drp@example.cz"}); m == nil {
		t.Fatalf("expected mailer")
	}
}

func TestSMTPMailerSendInvitation(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.cz", Port: 587, User: "u", Pass: "p", From: "drp@example.cz"})
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}

	err := m.SendInvitation(context.Background(), Invitation{
		To:                 "info@acme.cz",
		RespondentName:     "Acme",
		QuestionnaireTitle: "Annual\r\nBcc: evil@example.com",
		Link:               "https://forms.example.cz/r/ABCD2345",
		Token:              "ABCD2345",
	})
	if err != nil {
		t.Fatalf("SendInvitation: %v", err)
	}
	if gotAddr != "smtp.example.cz:587" || gotAuth == nil || len(gotTo) != 1 || gotTo[0] != "info@acme.cz" {
		t.Fatalf("unexpected envelope addr=%s to=%v", gotAddr, gotTo)
	}
	if !strings.Contains(gotMsg, "https://forms.example.cz/r/ABCD2345") || !strings.Contains(gotMsg, "Access code: ABCD2345") {
		t.Fatalf("message misses link or token:\n%s", gotMsg)
	}
	headers := strings.SplitN(gotMsg, "\r\n\r\n", 2)[0]
	if strings.Contains(headers, "\r\nBcc:") {
		t.Fatalf("header injection not neutralized:\n%s", gotMsg)
	}
}

func TestSMTPMailerWrapsSendError(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.cz", Port: 25, From: "drp@example.cz"})
	boom := errors.New("connection refused")
	m.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }
	if err := m.SendInvitation(context.Background(), Invitation{To: "a@b.cz", Token: "X"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped send error, got %v", err)
	}
}
