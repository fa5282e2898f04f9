package email

import (
	"bytes"
	"fmt"
	"html"
	"mime/multipart"
	"net/textproto"
	"time"

	"github.com/BTreeMap/PhrasePipe/internal/models"
)

// buildMessage renders the full RFC 5322 message for one recipient as a
// multipart/alternative body with a plain-text and an HTML part. Premium
// recipients get a distinct subject, greeting and accent color.
func buildMessage(phrase models.Phrase, recipient models.Recipient, from string, now time.Time) ([]byte, error) {
	premium := recipient.Tier == models.TierPremium

	subject := "Your Daily Phrase"
	if premium {
		subject = "Your Daily Phrase (Premium Edition)"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", recipient.Address)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "X-Priority: 3\r\n")
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", mw.Boundary())
	fmt.Fprintf(&buf, "\r\n")

	text, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create text part: %w", err)
	}
	fmt.Fprint(text, textBody(phrase, recipient, premium, now))

	html, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=utf-8"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create html part: %w", err)
	}
	fmt.Fprint(html, htmlBody(phrase, recipient, premium, now))

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return buf.Bytes(), nil
}

func textBody(phrase models.Phrase, recipient models.Recipient, premium bool, now time.Time) string {
	intro := "Here is your inspiring phrase of the day:"
	closing := "Have a day full of learning and growth!"
	if premium {
		intro = "Your premium inspiration for today is here:"
		closing = "Thank you for being part of our premium community!"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Hello %s,\r\n\r\n%s\r\n\r\n", recipient.DisplayName(), intro)
	fmt.Fprintf(&buf, "PHRASE: %s\r\n\r\n", phrase.Text)
	if phrase.Meaning != "" {
		fmt.Fprintf(&buf, "MEANING: %s\r\n\r\n", phrase.Meaning)
	}
	if phrase.Example != "" {
		fmt.Fprintf(&buf, "EXAMPLE: %s\r\n\r\n", phrase.Example)
	}
	fmt.Fprintf(&buf, "%s\r\n\r\n", closing)
	fmt.Fprintf(&buf, "----------------------------------------\r\n")
	fmt.Fprintf(&buf, "Sent on %s by the automated daily phrase service.\r\n", now.Format("2006-01-02 15:04"))
	return buf.String()
}

func htmlBody(phrase models.Phrase, recipient models.Recipient, premium bool, now time.Time) string {
	esc := html.EscapeString
	accent := "#2c5aa0"
	banner := "Daily Phrase"
	closing := "Have a day full of learning and growth!"
	if premium {
		accent = "#d4af37"
		banner = "Daily Phrase &bull; Premium"
		closing = "Thank you for being part of our premium community!"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<html><body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">`)
	fmt.Fprintf(&buf, `<div style="max-width: 600px; margin: 0 auto;">`)
	fmt.Fprintf(&buf, `<div style="background: %s; color: white; padding: 20px; text-align: center;"><h1 style="margin: 0; font-size: 24px;">%s</h1></div>`, accent, banner)
	fmt.Fprintf(&buf, `<div style="padding: 30px 20px;">`)
	fmt.Fprintf(&buf, `<h2 style="color: %s; margin-top: 0;">Hello %s,</h2>`, accent, esc(recipient.DisplayName()))
	fmt.Fprintf(&buf, `<div style="padding: 25px; border-radius: 12px; margin: 25px 0; border-left: 5px solid %s; background-color: #f8f9fa;">`, accent)
	fmt.Fprintf(&buf, `<p style="font-size: 20px; font-style: italic; font-weight: 500; margin: 0;">&ldquo;%s&rdquo;</p>`, esc(phrase.Text))
	if phrase.Meaning != "" {
		fmt.Fprintf(&buf, `<p style="margin: 15px 0 0 0; color: #495057;"><strong>Meaning:</strong> %s</p>`, esc(phrase.Meaning))
	}
	if phrase.Example != "" {
		fmt.Fprintf(&buf, `<p style="margin: 15px 0 0 0; color: #6c757d; font-style: italic;"><strong>Example:</strong> %s</p>`, esc(phrase.Example))
	}
	fmt.Fprintf(&buf, `</div>`)
	fmt.Fprintf(&buf, `<p style="text-align: center; color: %s; font-weight: 500;">%s</p>`, accent, closing)
	fmt.Fprintf(&buf, `</div>`)
	fmt.Fprintf(&buf, `<div style="background-color: #f8f9fa; padding: 20px; text-align: center; border-top: 1px solid #dee2e6; color: #6c757d; font-size: 14px;">`)
	fmt.Fprintf(&buf, `<p style="margin: 0;">Sent on %s by the automated daily phrase service.</p>`, now.Format("2006-01-02 15:04"))
	fmt.Fprintf(&buf, `</div></div></body></html>`)
	return buf.String()
}
