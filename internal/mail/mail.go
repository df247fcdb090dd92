// Package mail builds birthday messages and delivers them over SMTP.
package mail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a message or reports why it could not.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var (
	birthdayHTML = htmltemplate.Must(htmltemplate.New("birthday_html").Parse(
		`<h2>Happy Birthday, {{.}}! 🎂</h2>
<p>Wishing you a fantastic day filled with joy and happiness.</p>
<p>From all of us at the team 💛</p>
`))

	birthdayText = texttemplate.Must(texttemplate.New("birthday_text").Parse(
		`Happy Birthday, {{.}}!

Wishing you a fantastic day filled with joy and happiness.
From all of us at the team
`))
)

// BirthdayMessage renders the congratulation sent to a single user.
func BirthdayMessage(username, email string) (Message, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if email == "" {
		return Message{}, errors.New("recipient email is required")
	}

	var html, text bytes.Buffer
	if err := birthdayHTML.Execute(&html, username); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	if err := birthdayText.Execute(&text, username); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}

	return Message{
		To:      email,
		Subject: fmt.Sprintf("🎉 Happy Birthday, %s!", username),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
