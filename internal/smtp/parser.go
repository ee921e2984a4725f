package smtp

import (
	"io"
	"regexp"
	"strings"

	"github.com/jhillyerd/enmime"
	"github.com/tempbox/tempbox-backend/internal/models"
)

// ParsedEmail holds the fields admission and storage need from one inbound
// message. A single body is kept: the HTML part when the message carries
// one, the plain-text part otherwise.
type ParsedEmail struct {
	SenderEmail string
	SenderName  string
	Subject     string
	Body        string
	ContentKind models.ContentKind
}

// ParseEmail parses an RFC 5322 message from an io.Reader
func ParseEmail(r io.Reader) (*ParsedEmail, error) {
	env, err := enmime.ReadEnvelope(r)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedEmail{
		Subject: env.GetHeader("Subject"),
	}

	if env.HTML != "" {
		parsed.Body = env.HTML
		parsed.ContentKind = models.ContentKindHTML
	} else {
		parsed.Body = env.Text
		parsed.ContentKind = models.ContentKindText
	}

	parsed.SenderName, parsed.SenderEmail = parseFromHeader(env.GetHeader("From"))

	return parsed, nil
}

// parseFromHeader extracts name and email from a From header
func parseFromHeader(from string) (name, email string) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", ""
	}

	// Pattern: "Name" <email@example.com> or Name <email@example.com>
	re := regexp.MustCompile(`^(?:"?([^"<]*)"?\s*)?<?([^<>]+@[^<>]+)>?$`)
	matches := re.FindStringSubmatch(from)

	if len(matches) >= 3 {
		name = strings.TrimSpace(matches[1])
		email = strings.TrimSpace(matches[2])
		name = strings.Trim(name, `"`)
	} else {
		// Fallback: treat entire string as email
		email = from
	}

	return name, email
}
