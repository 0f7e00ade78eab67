package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"convo/pkg/models"
)

// ErrInvalidContent wraps all content rejections. Invalid content is
// rejected synchronously, before a message ever enters the send pipeline.
var ErrInvalidContent = errors.New("invalid content")

// Limits bound accepted message content. Set once at startup.
type Limits struct {
	MaxContentBytes int64
}

var limits atomic.Pointer[Limits]

func init() {
	limits.Store(&Limits{MaxContentBytes: 4 * 1024})
}

// SetLimits installs the content limits used by ValidateContent.
func SetLimits(l Limits) {
	if l.MaxContentBytes <= 0 {
		l.MaxContentBytes = 4 * 1024
	}
	limits.Store(&l)
}

// ValidateContent checks a message payload against the tagged-variant
// rules. All failures wrap ErrInvalidContent.
func ValidateContent(c models.Content) error {
	max := limits.Load().MaxContentBytes
	switch c.Type {
	case models.ContentText:
		t := strings.TrimSpace(c.Text)
		if t == "" {
			return fmt.Errorf("%w: empty text", ErrInvalidContent)
		}
		if int64(len(c.Text)) > max {
			return fmt.Errorf("%w: text exceeds %d bytes", ErrInvalidContent, max)
		}
	case models.ContentImage, models.ContentFile:
		if c.URL == "" {
			return fmt.Errorf("%w: missing url for %s content", ErrInvalidContent, c.Type)
		}
		if int64(len(c.Caption)) > max {
			return fmt.Errorf("%w: caption exceeds %d bytes", ErrInvalidContent, max)
		}
	case models.ContentLocation:
		if c.Lat < -90 || c.Lat > 90 || c.Lng < -180 || c.Lng > 180 {
			return fmt.Errorf("%w: coordinates out of range", ErrInvalidContent)
		}
	case "":
		return fmt.Errorf("%w: missing content type", ErrInvalidContent)
	default:
		return fmt.Errorf("%w: unknown content type %q", ErrInvalidContent, c.Type)
	}
	return nil
}

// ValidateParticipant checks the identity fields used to build a
// participant snapshot.
func ValidateParticipant(p models.Participant) error {
	if strings.TrimSpace(p.UserID) == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidContent)
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		return fmt.Errorf("%w: missing display name", ErrInvalidContent)
	}
	switch p.Role {
	case models.RolePersonal, models.RoleBusiness:
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidContent, p.Role)
	}
	return nil
}
