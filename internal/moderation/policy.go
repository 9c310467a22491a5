package moderation

import (
	"slices"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

// Policy classifies a sender against the fixed owner set and the admin list.
type Policy struct {
	owners []string
}

// NewPolicy builds a policy from owner identities in any accepted form
// (bare number, @c.us or @s.whatsapp.net).
func NewPolicy(owners []string) *Policy {
	p := &Policy{}
	for _, o := range owners {
		if id := models.NormalizeIdentity(o); id != "" && !slices.Contains(p.owners, id) {
			p.owners = append(p.owners, id)
		}
	}
	return p
}

// Owners returns the normalised owner identities.
func (p *Policy) Owners() []string {
	return slices.Clone(p.owners)
}

// IsOwner reports whether id belongs to the owner set. Owner-only commands use
// this alone and never consult the admin list.
func (p *Policy) IsOwner(id string) bool {
	return slices.Contains(p.owners, models.NormalizeIdentity(id))
}

// IsAdmin reports whether id is an owner or listed in doc.Admins.
func (p *Policy) IsAdmin(id string, doc *models.ModerationDocument) bool {
	if p.IsOwner(id) {
		return true
	}
	return doc != nil && doc.IsListedAdmin(models.NormalizeIdentity(id))
}
