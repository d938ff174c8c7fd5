package services

import (
	"regexp"
	"strings"

	"social-inbox/internal/core/domain"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{6,}\d`)
)

// ExtractClientDraft is a best-effort heuristic for the "create client" flow.
// It scans the participant's messages, newest first, for an email and a phone
// number and splits the display name on the first space. It never fails; fields
// it cannot guess stay empty.
func ExtractClientDraft(conv domain.Conversation, messages []domain.Message) domain.ClientDraft {
	var draft domain.ClientDraft

	name := strings.TrimSpace(conv.ParticipantName)
	if first, last, ok := strings.Cut(name, " "); ok {
		draft.FirstName = first
		draft.LastName = strings.TrimSpace(last)
	} else {
		draft.FirstName = name
	}

	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.FromBusiness || m.Text == "" {
			continue
		}
		if draft.Email == "" {
			draft.Email = emailPattern.FindString(m.Text)
		}
		if draft.Phone == "" {
			draft.Phone = normalizePhone(phonePattern.FindString(m.Text))
		}
		if draft.Email != "" && draft.Phone != "" {
			break
		}
	}
	return draft
}

// normalizePhone keeps digits and a leading plus
func normalizePhone(raw string) string {
	if raw == "" {
		return ""
	}
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
