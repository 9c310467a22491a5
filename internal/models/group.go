package models

import "time"

// GroupParticipant is one member of a group chat.
type GroupParticipant struct {
	ID           string `json:"id"`
	IsAdmin      bool   `json:"isAdmin"`
	IsSuperAdmin bool   `json:"isSuperAdmin"`
}

// GroupInfo is the metadata the bot needs about a group chat.
type GroupInfo struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Topic        string             `json:"topic,omitempty"`
	Owner        string             `json:"owner,omitempty"`
	Created      time.Time          `json:"created"`
	Participants []GroupParticipant `json:"participants"`
}

// ParticipantIDs returns the member identities in group order.
func (g *GroupInfo) ParticipantIDs() []string {
	ids := make([]string, 0, len(g.Participants))
	for _, p := range g.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

// AdminCount counts admins and super admins.
func (g *GroupInfo) AdminCount() int {
	n := 0
	for _, p := range g.Participants {
		if p.IsAdmin || p.IsSuperAdmin {
			n++
		}
	}
	return n
}
