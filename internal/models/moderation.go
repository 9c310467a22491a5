package models

import (
	"slices"
	"time"
)

// MaxDeletionLog bounds the number of deletion records kept in the document.
const MaxDeletionLog = 200

// Language identifies a greeting language.
type Language string

const (
	LanguageIndonesian Language = "id"
	LanguageEnglish    Language = "en"
	LanguageSundanese  Language = "su"
	LanguageJavanese   Language = "jv"
)

// Languages is the fixed rotation order used by the greeting engine.
var Languages = []Language{LanguageIndonesian, LanguageEnglish, LanguageSundanese, LanguageJavanese}

// DeletionRecord is an audit entry created when a muted member's message is removed.
type DeletionRecord struct {
	MessageID string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	GroupID   string    `json:"group"`
	Time      time.Time `json:"time"`
}

// ModerationDocument is the single persisted record shared by every handler.
// Muted and Admins have set semantics over insertion order.
type ModerationDocument struct {
	Muted         []string         `json:"muted"`
	Log           []DeletionRecord `json:"log"`
	Admins        []string         `json:"admins"`
	LanguageIndex int              `json:"languageIndex"`
}

// NewModerationDocument returns an empty document.
func NewModerationDocument() *ModerationDocument {
	return &ModerationDocument{
		Muted:  []string{},
		Log:    []DeletionRecord{},
		Admins: []string{},
	}
}

// Normalize backfills missing fields and restores the document invariants
// after decoding. Entries already present are never discarded, except log
// records beyond MaxDeletionLog and duplicate identities.
func (d *ModerationDocument) Normalize() {
	if d.Muted == nil {
		d.Muted = []string{}
	}
	if d.Admins == nil {
		d.Admins = []string{}
	}
	if d.Log == nil {
		d.Log = []DeletionRecord{}
	}
	d.Muted = dedupe(d.Muted)
	d.Admins = dedupe(d.Admins)
	d.trimLog()
	n := len(Languages)
	d.LanguageIndex = ((d.LanguageIndex % n) + n) % n
}

// Clone returns a deep copy safe to hand to readers outside the store lock.
func (d *ModerationDocument) Clone() *ModerationDocument {
	return &ModerationDocument{
		Muted:         slices.Clone(d.Muted),
		Log:           slices.Clone(d.Log),
		Admins:        slices.Clone(d.Admins),
		LanguageIndex: d.LanguageIndex,
	}
}

// Mute adds id to the mute list. It reports false when id was already muted.
func (d *ModerationDocument) Mute(id string) bool {
	if slices.Contains(d.Muted, id) {
		return false
	}
	d.Muted = append(d.Muted, id)
	return true
}

// Unmute removes id from the mute list. It reports false when id was not muted.
func (d *ModerationDocument) Unmute(id string) bool {
	if !slices.Contains(d.Muted, id) {
		return false
	}
	d.Muted = slices.DeleteFunc(d.Muted, func(m string) bool { return m == id })
	return true
}

func (d *ModerationDocument) IsMuted(id string) bool {
	return slices.Contains(d.Muted, id)
}

// Grant adds id to the admin list. It reports false when id was already listed.
func (d *ModerationDocument) Grant(id string) bool {
	if slices.Contains(d.Admins, id) {
		return false
	}
	d.Admins = append(d.Admins, id)
	return true
}

// Revoke removes id from the admin list. It reports false when id was not listed.
func (d *ModerationDocument) Revoke(id string) bool {
	if !slices.Contains(d.Admins, id) {
		return false
	}
	d.Admins = slices.DeleteFunc(d.Admins, func(a string) bool { return a == id })
	return true
}

func (d *ModerationDocument) IsListedAdmin(id string) bool {
	return slices.Contains(d.Admins, id)
}

// AppendDeletion records rec and evicts the oldest entries beyond MaxDeletionLog.
func (d *ModerationDocument) AppendDeletion(rec DeletionRecord) {
	d.Log = append(d.Log, rec)
	d.trimLog()
}

// RecentDeletions returns up to n records, newest first.
func (d *ModerationDocument) RecentDeletions(n int) []DeletionRecord {
	if n <= 0 || n > len(d.Log) {
		n = len(d.Log)
	}
	out := make([]DeletionRecord, 0, n)
	for i := len(d.Log) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, d.Log[i])
	}
	return out
}

// NextLanguage returns the language at the rotation cursor and advances it.
func (d *ModerationDocument) NextLanguage() Language {
	n := len(Languages)
	i := ((d.LanguageIndex % n) + n) % n
	d.LanguageIndex = (i + 1) % n
	return Languages[i]
}

func (d *ModerationDocument) trimLog() {
	if over := len(d.Log) - MaxDeletionLog; over > 0 {
		d.Log = slices.Clone(d.Log[over:])
	}
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
