package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/nemadiversity/pipeline/internal/entity"
	"github.com/nemadiversity/pipeline/internal/pkg/logger"
)

// Notifier tells a report's owner that their job finished. One email per
// terminal transition; callers are responsible for not re-sending on
// repeated status notifications.
type Notifier interface {
	JobFinished(ctx context.Context, r *entity.Report) error
}

type emailNotifier struct {
	log     *logger.Logger
	mailer  Mailer
	siteURL string
}

func NewEmailNotifier(log *logger.Logger, mailer Mailer, siteURL string) Notifier {
	return &emailNotifier{
		log:     log.With("service", "EmailNotifier"),
		mailer:  mailer,
		siteURL: siteURL,
	}
}

var jobKindTitles = map[string]string{
	"indel_primer":        "Indel Primer",
	"heritability_report": "Heritability",
	"nemascan_mapping":    "Genetic Mapping",
	"database_operation":  "Database Operation",
	"phenotype_report":    "Phenotype Comparison",
}

var completeTemplate = template.Must(template.New("complete").Parse(
	`Your {{.Title}} job has finished.

View your results here:
{{.SiteURL}}/report/{{.Kind}}/{{.ID}}

Thanks for using the site!
`))

var errorTemplate = template.Must(template.New("error").Parse(
	`Your {{.Title}} job stopped with an error.

{{if .Message}}The pipeline reported:
{{.Message}}

{{end}}You can review the submission here:
{{.SiteURL}}/report/{{.Kind}}/{{.ID}}

If the problem persists, please contact us.
`))

type emailData struct {
	Title   string
	Kind    string
	ID      string
	SiteURL string
	Message string
}

func (n *emailNotifier) JobFinished(ctx context.Context, r *entity.Report) error {
	if r.OwnerEmail == "" {
		n.log.Warn("report owner has no email, skipping notification",
			"kind", r.Kind, "id", r.ID, "owner", r.Owner)
		return nil
	}

	title, ok := jobKindTitles[r.Kind]
	if !ok {
		title = r.Kind
	}
	data := emailData{
		Title:   title,
		Kind:    r.Kind,
		ID:      r.ID,
		SiteURL: n.siteURL,
		Message: r.ErrorMessage,
	}

	var (
		tmpl    *template.Template
		subject string
	)
	switch r.Status {
	case entity.StatusComplete:
		tmpl = completeTemplate
		subject = fmt.Sprintf("Your %s results are ready", title)
	case entity.StatusError:
		tmpl = errorTemplate
		subject = fmt.Sprintf("Your %s job ran into a problem", title)
	default:
		return fmt.Errorf("report %s is not finished (status %s)", r.ID, r.Status)
	}

	var body bytes.Buffer
	if err := tmpl.Execute(&body, data); err != nil {
		return err
	}

	if err := n.mailer.Send(ctx, Message{
		ToEmail: r.OwnerEmail,
		Subject: subject,
		Text:    body.String(),
	}); err != nil {
		return fmt.Errorf("failed to email %s: %w", r.Owner, err)
	}
	n.log.Info("sent job notification", "kind", r.Kind, "id", r.ID, "status", r.Status)
	return nil
}
