package respondent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/smtp"
	"strings"
)

type Invitation struct {
	To                 string
	RespondentName     string
	QuestionnaireTitle string
	Link               string
	Token              string
}

type InvitationMailer interface {
	SendInvitation(ctx context.Context, inv Invitation) error
}

type SMTPMailer struct {
	host string
	port int
	user string
	pass string
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// NewSMTPMailer returns nil when the SMTP settings are incomplete.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if strings.TrimSpace(cfg.Host) == "" || cfg.Port <= 0 || strings.TrimSpace(cfg.From) == "" {
		return nil
	}
	return &SMTPMailer{
		host: strings.TrimSpace(cfg.Host),
		port: cfg.Port,
		user: strings.TrimSpace(cfg.User),
		pass: cfg.Pass,
		from: strings.TrimSpace(cfg.From),
		send: smtp.SendMail,
	}
}

func (m *SMTPMailer) SendInvitation(ctx context.Context, inv Invitation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	var auth smtp.Auth
	if m.user != "" {
		auth = smtp.PlainAuth("", m.user, m.pass, m.host)
	}
	if err := m.send(addr, auth, m.from, []string{inv.To}, buildInvitationMessage(m.from, inv)); err != nil {
		return fmt.Errorf("smtp send invitation: %w", err)
	}
	return nil
}

func buildInvitationMessage(from string, inv Invitation) []byte {
	subject := "Invitation: " + headerSafe(inv.QuestionnaireTitle)
	var body strings.Builder
	if inv.RespondentName != "" {
		fmt.Fprintf(&body, "Dear %s,\n\n", inv.RespondentName)
	}
	fmt.Fprintf(&body, "you are invited to fill in the questionnaire \"%s\".\n\n", inv.QuestionnaireTitle)
	if inv.Link != "" {
		fmt.Fprintf(&body, "Open the form: %s\n", inv.Link)
	}
	fmt.Fprintf(&body, "Access code: %s\n\nYour answers are saved automatically and you can return to the form later.\n", inv.Token)

	msg := "From: " + from + "\r\n" +
		"To: " + headerSafe(inv.To) + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		body.String() + "\r\n"
	return []byte(msg)
}

func headerSafe(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

type InvitationReport struct {
	Sent    int                 `json:"sent"`
	Skipped int                 `json:"skipped"`
	Failed  []InvitationFailure `json:"failed"`
}

type InvitationFailure struct {
	RespondentID int64  `json:"respondent_id"`
	Error        string `json:"error"`
}

// SendInvitations mails the respondent link to the selected respondents, or
// to every respondent of the questionnaire when ids is empty. Respondents
// without an email address are skipped.
func (s *Service) SendInvitations(ctx context.Context, questionnaireID, actorID int64, ids []int64) (*InvitationReport, error) {
	if s.mailer == nil {
		return nil, ErrMailerDisabled
	}
	if questionnaireID <= 0 {
		return nil, ErrInvalidInput
	}

	var title string
	if err := s.db.QueryRowContext(ctx, `SELECT title FROM questionnaires WHERE id = $1`, questionnaireID).Scan(&title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrQuestionnaireNotFound
		}
		return nil, fmt.Errorf("load questionnaire: %w", err)
	}

	items, err := s.List(ctx, questionnaireID)
	if err != nil {
		return nil, err
	}
	selected := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		selected[id] = struct{}{}
	}

	report := &InvitationReport{Failed: make([]InvitationFailure, 0)}
	for _, r := range items {
		if len(selected) > 0 {
			if _, ok := selected[r.ID]; !ok {
				continue
			}
		}
		if r.Email == "" {
			report.Skipped++
			continue
		}
		err := s.mailer.SendInvitation(ctx, Invitation{
			To:                 r.Email,
			RespondentName:     r.Name,
			QuestionnaireTitle: title,
			Link:               s.respondentLink(r.Token),
			Token:              r.Token,
		})
		if err != nil {
			log.Printf("respondent: invitation to respondent %d: %v", r.ID, err)
			report.Failed = append(report.Failed, InvitationFailure{RespondentID: r.ID, Error: "send failed"})
			continue
		}
		report.Sent++
	}

	s.logAudit(ctx, questionnaireID, actorID, "invitations_sent", 0, map[string]any{
		"sent":    report.Sent,
		"skipped": report.Skipped,
		"failed":  len(report.Failed),
	})
	return report, nil
}

func (s *Service) respondentLink(token string) string {
	if s.baseURL == "" {
		return ""
	}
	return s.baseURL + "/r/" + token
}
