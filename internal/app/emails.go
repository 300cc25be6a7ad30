package app

import (
	"bytes"
	htmltmpl "html/template"
	texttmpl "text/template"

	"github.com/finboost/rewards-service/pkg/payoutclient"
)

type emailTemplate struct {
	subject string
	text    *texttmpl.Template
	html    *htmltmpl.Template
}

var (
	verificationEmail = emailTemplate{
		subject: "Verify your FinBoost email address",
		text: texttmpl.Must(texttmpl.New("verification.txt").Parse(
			"Hi {{.Name}},\n\nConfirm your email address to start earning rewards:\n{{.Link}}\n\nThis link expires in {{.TTLHours}} hours.\n")),
		html: htmltmpl.Must(htmltmpl.New("verification.html").Parse(
			`<p>Hi {{.Name}},</p><p>Confirm your email address to start earning rewards:</p><p><a href="{{.Link}}">Verify email</a></p><p>This link expires in {{.TTLHours}} hours.</p>`)),
	}

	payoutPaidEmail = emailTemplate{
		subject: "Your FinBoost reward has been paid",
		text: texttmpl.Must(texttmpl.New("payout_paid.txt").Parse(
			"Hi {{.Name}},\n\nYour reward of {{.Amount}} {{.Currency}} has been sent to your payout account.\n\nView your rewards history: {{.Link}}\n")),
		html: htmltmpl.Must(htmltmpl.New("payout_paid.html").Parse(
			`<p>Hi {{.Name}},</p><p>Your reward of <strong>{{.Amount}} {{.Currency}}</strong> has been sent to your payout account.</p><p><a href="{{.Link}}">View your rewards history</a></p>`)),
	}
)

type verificationEmailData struct {
	Name     string
	Link     string
	TTLHours int
}

type payoutEmailData struct {
	Name     string
	Amount   string
	Currency string
	Link     string
}

func (t emailTemplate) render(to, toName, tag string, data interface{}) (Message, error) {
	var text, html bytes.Buffer
	if err := t.text.Execute(&text, data); err != nil {
		return Message{}, err
	}
	if err := t.html.Execute(&html, data); err != nil {
		return Message{}, err
	}
	return Message{
		To:            to,
		ToName:        toName,
		Subject:       t.subject,
		TextBody:      text.String(),
		HTMLBody:      html.String(),
		Tag:           tag,
		Transactional: true,
	}, nil
}

func formatAmount(cents int64) string {
	return payoutclient.FormatMinorUnits(cents)
}
