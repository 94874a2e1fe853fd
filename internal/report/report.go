package report

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Zuo-Peng/chatmask/internal/export"
	"github.com/Zuo-Peng/chatmask/internal/ingest"
)

// Diagnostics reports fatal ingestion failures. With no URL it only logs.
type Diagnostics struct {
	c             client
	participantID string
	now           func() time.Time
}

func NewDiagnostics(url, participantID string, logger *zap.Logger) *Diagnostics {
	return &Diagnostics{c: newClient(url, logger), participantID: participantID, now: time.Now}
}

type diagnosticsReport struct {
	ParticipantID *string `json:"id_one"`
	HelpMessage   string  `json:"helpMessage"`
	ErrorDetails  string  `json:"errorDetails"`
	FileName      string  `json:"fileName"`
	FileSize      int64   `json:"fileSize"`
	Timestamp     string  `json:"timestamp"`
}

// ReportFailure posts the failure. It is bounded by the client timeout.
func (d *Diagnostics) ReportFailure(ctx context.Context, f ingest.Failure) error {
	if d.c.url == "" {
		d.c.logger.Debug("diagnostics disabled", zap.String("archive", f.Source.Name))
		return nil
	}
	r := diagnosticsReport{
		HelpMessage:  f.Err.Error(),
		ErrorDetails: f.Details,
		FileName:     f.Source.Name,
		FileSize:     f.Source.Size,
		Timestamp:    d.now().UTC().Format(time.RFC3339Nano),
	}
	if d.participantID != "" {
		r.ParticipantID = &d.participantID
	}
	if err := d.c.post(ctx, r); err != nil {
		return fmt.Errorf("diagnostics: %w", err)
	}
	return nil
}

// Submitter delivers masked submissions.
type Submitter struct {
	c client
}

func NewSubmitter(url string, logger *zap.Logger) *Submitter {
	return &Submitter{c: newClient(url, logger)}
}

func (s *Submitter) Submit(ctx context.Context, sub export.Submission) error {
	if err := s.c.post(ctx, sub); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	s.c.logger.Info("submission delivered",
		zap.String("session_id", sub.SessionID),
		zap.Int("conversations", sub.TotalConversations),
		zap.Int("messages", sub.TotalMessages))
	return nil
}

var (
	ErrMissingFields = errors.New("please fill in all fields")
	ErrInvalidEmail  = errors.New("please enter a valid email address")
)

var emailRE = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// HelpRequest is a support message from the user.
type HelpRequest struct {
	Email     string `json:"email"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Validate trims the fields and checks them.
func (h *HelpRequest) Validate() error {
	h.Email = strings.TrimSpace(h.Email)
	h.Message = strings.TrimSpace(h.Message)
	if h.Email == "" || h.Message == "" {
		return ErrMissingFields
	}
	if !emailRE.MatchString(h.Email) {
		return ErrInvalidEmail
	}
	return nil
}

// Help sends support requests.
type Help struct {
	c   client
	now func() time.Time
}

func NewHelp(url string, logger *zap.Logger) *Help {
	return &Help{c: newClient(url, logger), now: time.Now}
}

func (h *Help) Send(ctx context.Context, email, message string) error {
	req := HelpRequest{Email: email, Message: message}
	if err := req.Validate(); err != nil {
		return err
	}
	req.Timestamp = h.now().UTC().Format(time.RFC3339Nano)
	if err := h.c.post(ctx, req); err != nil {
		return fmt.Errorf("help request: %w", err)
	}
	return nil
}
