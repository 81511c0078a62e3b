// Package ticket builds the fixed text layout of a printed ticket.
package ticket

import (
	"errors"
	"image"
	"strings"
	"time"
)

// DefaultSender is printed when no sender name is given.
const DefaultSender = "Anonymous"

const (
	banner    = "================================"
	separator = "--------------------------------"

	timeLayout = "03:04 PM"
	dateLayout = "January 02, 2006"
)

// ErrEmptyMessage is returned for a message that is blank after trimming.
var ErrEmptyMessage = errors.New("ticket: question is required")

// Request is one ticket to print.
type Request struct {
	Sender  string
	Message string
	Image   image.Image // optional
}

// NewRequest trims its inputs, defaults the sender and rejects a blank message.
func NewRequest(sender, message string, img image.Image) (Request, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Request{}, ErrEmptyMessage
	}
	sender = strings.TrimSpace(sender)
	if sender == "" {
		sender = DefaultSender
	}
	return Request{Sender: sender, Message: message, Image: img}, nil
}

// Role tags a layout line so styled printers can format it.
type Role int

const (
	RoleBanner Role = iota
	RoleTitle
	RoleSeparator
	RoleSender
	RoleMeta
	RoleHeader
	RoleBody
)

// Line is one line of the ticket layout, without its newline.
type Line struct {
	Role Role
	Text string
}

// Layout returns the ticket lines for the given sender, message and time.
func Layout(sender, message string, now time.Time) []Line {
	return []Line{
		{RoleBanner, banner},
		{RoleTitle, "TICKET"},
		{RoleSeparator, separator},
		{RoleSender, "From: " + sender},
		{RoleMeta, "Time: " + now.Format(timeLayout)},
		{RoleMeta, "Date: " + now.Format(dateLayout)},
		{RoleSeparator, separator},
		{RoleHeader, "Question/Comment"},
		{RoleBody, strings.TrimSpace(message)},
		{RoleSeparator, separator},
		{RoleBanner, banner},
	}
}

// BuildText renders the layout with every line newline-terminated.
func BuildText(sender, message string, now time.Time) string {
	var b strings.Builder
	for _, l := range Layout(sender, message, now) {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Renderer renders tickets at the time of its clock.
type Renderer struct {
	Now func() time.Time
}

// NewRenderer returns a renderer on the wall clock.
func NewRenderer() *Renderer {
	return &Renderer{Now: time.Now}
}

func (r *Renderer) now() time.Time {
	if r == nil || r.Now == nil {
		return time.Now()
	}
	return r.Now()
}

// Text renders req as plain text.
func (r *Renderer) Text(req Request) string {
	return BuildText(req.Sender, req.Message, r.now())
}

// Lines returns req's layout lines.
func (r *Renderer) Lines(req Request) []Line {
	return Layout(req.Sender, req.Message, r.now())
}
