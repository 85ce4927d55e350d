package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/nemadiversity/pipeline/internal/entity"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

type recordingMailer struct {
	sent []Message
	fail error
}

func (m *recordingMailer) Send(ctx context.Context, msg Message) error {
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, msg)
	return nil
}

func testReport(status entity.JobStatus) *entity.Report {
	return &entity.Report{
		Kind:       "heritability_report",
		ID:         "abc123",
		Status:     status,
		Owner:      "jdoe",
		OwnerEmail: "jdoe@example.com",
	}
}

func TestJobFinishedComplete(t *testing.T) {
	mailer := &recordingMailer{}
	n := NewEmailNotifier(logger.NewNop(), mailer, "https://site.example.com")

	if err := n.JobFinished(context.Background(), testReport(entity.StatusComplete)); err != nil {
		t.Fatal(err)
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("sent %d emails, want 1", len(mailer.sent))
	}
	msg := mailer.sent[0]
	if msg.ToEmail != "jdoe@example.com" {
		t.Errorf("to = %q", msg.ToEmail)
	}
	if !strings.Contains(msg.Subject, "Heritability") {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Text, "https://site.example.com/report/heritability_report/abc123") {
		t.Errorf("body missing report link:\n%s", msg.Text)
	}
}

func TestJobFinishedErrorIncludesMessage(t *testing.T) {
	mailer := &recordingMailer{}
	n := NewEmailNotifier(logger.NewNop(), mailer, "https://site.example.com")

	r := testReport(entity.StatusError)
	r.ErrorMessage = "container exited with code 1"
	if err := n.JobFinished(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(mailer.sent[0].Text, "container exited with code 1") {
		t.Errorf("body missing error message:\n%s", mailer.sent[0].Text)
	}
}

func TestJobFinishedRejectsOpenReport(t *testing.T) {
	n := NewEmailNotifier(logger.NewNop(), &recordingMailer{}, "https://site.example.com")
	if err := n.JobFinished(context.Background(), testReport(entity.StatusRunning)); err == nil {
		t.Error("open report accepted")
	}
}

func TestJobFinishedSkipsMissingEmail(t *testing.T) {
	mailer := &recordingMailer{}
	n := NewEmailNotifier(logger.NewNop(), mailer, "https://site.example.com")

	r := testReport(entity.StatusComplete)
	r.OwnerEmail = ""
	if err := n.JobFinished(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if len(mailer.sent) != 0 {
		t.Errorf("email sent despite missing address")
	}
}
