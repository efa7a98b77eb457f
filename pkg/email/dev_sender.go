package email

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DevSender writes emails to disk instead of sending them. Each message
// becomes one HTML file named after its tag and timestamp.
type DevSender struct {
	dir string
}

// NewDevSender creates a file-based sender; the directory is created lazily
// on first send.
func NewDevSender(dir string) *DevSender {
	return &DevSender{dir: dir}
}

func (d *DevSender) SendEmail(_ context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToSendEmail, err)
	}

	name := params.Tag
	if name == "" {
		name = params.Subject
	}
	filename := fmt.Sprintf("%s_%s.html",
		time.Now().Format("2006_01_02_150405"), sanitizeFilename(name))

	body := fmt.Sprintf("<!-- to: %s | subject: %s -->\n%s",
		params.SendTo, params.Subject, params.BodyHTML)
	if err := os.WriteFile(filepath.Join(d.dir, filename), []byte(body), 0o644); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToSendEmail, err)
	}
	return nil
}

var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

func sanitizeFilename(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = unsafeFilenameChars.ReplaceAllString(s, "")
	if len(s) > 64 {
		s = s[:64]
	}
	if s == "" {
		s = "email"
	}
	return strings.ToLower(s)
}
