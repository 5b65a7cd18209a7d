// Package mailer sends enrollment confirmations over SMTP.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	htmltpl "html/template"
	texttpl "text/template"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/skip2/go-qrcode"
	"github.com/wneessen/go-mail"

	"github.com/farellandr/enrollhub/config"
	"github.com/farellandr/enrollhub/internal/helpers"
	"github.com/farellandr/enrollhub/internal/models"
)

// Confirmation is everything the confirmation email renders.
type Confirmation struct {
	To            string
	Name          string
	Workshop      string
	Schedule      string
	Location      string
	AccessDetails string
	Amount        decimal.Decimal
	Currency      string
	OrderID       string
	TransactionID string
	EnrollmentID  string
}

// NewConfirmation builds the email view of a paid enrollment. Workshop and
// Batch must be loaded.
func NewConfirmation(e *models.Enrollment) Confirmation {
	c := Confirmation{
		To:           e.Email,
		Name:         e.Name,
		Amount:       e.Amount,
		Currency:     e.Currency,
		OrderID:      e.OrderID,
		EnrollmentID: e.ID.String(),
		Schedule:     "TBD",
	}
	if e.TransactionID != nil {
		c.TransactionID = *e.TransactionID
	}
	if e.Workshop != nil {
		c.Workshop = e.Workshop.Title
		c.AccessDetails = e.Workshop.AccessDetails
	}
	if e.Batch != nil {
		c.Schedule = e.Batch.ScheduleLabel()
		c.Location = e.Batch.Location
	}
	return c
}

func (c Confirmation) FormattedAmount() string {
	return c.Currency + " " + c.Amount.StringFixed(2)
}

type SMTPMailer struct {
	client   *mail.Client
	from     string
	qrSecret string
	log      *logrus.Logger
}

func NewSMTPMailer(cfg config.MailConfig, qrSecret string, log *logrus.Logger) (*SMTPMailer, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.From, qrSecret: qrSecret, log: log}, nil
}

// SendConfirmation mails the booking confirmation with an attendance QR.
func (m *SMTPMailer) SendConfirmation(ctx context.Context, e *models.Enrollment) error {
	msg, err := m.buildMessage(NewConfirmation(e))
	if err != nil {
		return err
	}
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send confirmation to %s: %w", e.Email, err)
	}
	m.log.WithFields(logrus.Fields{
		"order_id": e.OrderID,
		"to":       e.Email,
	}).Info("confirmation email sent")
	return nil
}

func (m *SMTPMailer) buildMessage(c Confirmation) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("from address: %w", err)
	}
	if err := msg.To(c.To); err != nil {
		return nil, fmt.Errorf("to address: %w", err)
	}
	msg.Subject("Booking confirmed: " + c.Workshop)

	if err := msg.SetBodyHTMLTemplate(htmlConfirmation, c); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}
	if err := msg.AddAlternativeTextTemplate(textConfirmation, c); err != nil {
		return nil, fmt.Errorf("render text body: %w", err)
	}

	png, err := qrcode.Encode(AttendanceQRData(c, m.qrSecret), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("attendance qr: %w", err)
	}
	msg.AttachReadSeeker("attendance-"+c.OrderID+".png", bytes.NewReader(png),
		mail.WithFileContentType(mail.ContentType("image/png")))
	return msg, nil
}

// AttendanceQRData is the signed payload scanned at the door.
func AttendanceQRData(c Confirmation, secret string) string {
	signature := helpers.QRSignature(secret, c.EnrollmentID, c.OrderID, c.TransactionID)
	return fmt.Sprintf("enrollment:%s;order:%s;signature:%s", c.EnrollmentID, c.OrderID, signature)
}

var htmlConfirmation = htmltpl.Must(htmltpl.New("confirmation.html").Parse(`<!doctype html>
<html>
<body>
<p>Hi {{.Name}},</p>
<p>Your seat for <strong>{{.Workshop}}</strong> is confirmed.</p>
<table>
<tr><td>When</td><td>{{.Schedule}}</td></tr>
{{if .Location}}<tr><td>Where</td><td>{{.Location}}</td></tr>{{end}}
<tr><td>Paid</td><td>{{.FormattedAmount}}</td></tr>
<tr><td>Order</td><td>{{.OrderID}}</td></tr>
{{if .TransactionID}}<tr><td>Transaction</td><td>{{.TransactionID}}</td></tr>{{end}}
</table>
{{if .AccessDetails}}<p>{{.AccessDetails}}</p>{{end}}
<p>Show the attached QR code when you arrive.</p>
</body>
</html>
`))

var textConfirmation = texttpl.Must(texttpl.New("confirmation.txt").Parse(`Hi {{.Name}},

Your seat for {{.Workshop}} is confirmed.

When: {{.Schedule}}
{{if .Location}}Where: {{.Location}}
{{end}}Paid: {{.FormattedAmount}}
Order: {{.OrderID}}
{{if .TransactionID}}Transaction: {{.TransactionID}}
{{end}}{{if .AccessDetails}}
{{.AccessDetails}}
{{end}}
Show the attached QR code when you arrive.
`))
