// Package command maps an inbound message onto exactly one intent by walking a
// fixed, ordered rule list. The first rule whose predicate matches wins.
package command

import (
	"strconv"
	"strings"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

// Intent is the command category assigned to an inbound message.
type Intent string

const (
	IntentNone               Intent = "none"
	IntentDeleteMutedMessage Intent = "delete_muted_message"
	IntentTagAll             Intent = "tag_all"
	IntentGroupInfo          Intent = "group_info"
	IntentRepeatQuoted       Intent = "repeat_quoted"
	IntentAiVision           Intent = "ai_vision"
	IntentAiText             Intent = "ai_text"
	IntentSilence            Intent = "silence"
	IntentUnsilence          Intent = "unsilence"
	IntentKick               Intent = "kick"
	IntentAllowAdmin         Intent = "allow_admin"
	IntentRevokeAdmin        Intent = "revoke_admin"
	IntentListAdmins         Intent = "list_admins"
	IntentStickerConvert     Intent = "sticker_convert"
)

// Trigger keywords.
const (
	KeywordTagAll   = "!tagall"
	KeywordGroupID  = "!groupid"
	KeywordIDGrup   = "!idgrup"
	KeywordRepeat   = "ulang"
	KeywordAI       = "do"
	KeywordSilence  = "silent him"
	KeywordUnsilent = "unsilent him"
	KeywordKick     = "kick him"
	KeywordAllow    = "allow him"
	KeywordRevoke   = "revoke him"
	KeywordList     = "list admins"
	KeywordSticker  = "!sticker"

	// DefaultVisionPrompt is used when an image arrives with a bare "do".
	DefaultVisionPrompt = "What is in this picture? Describe it."
)

// Input is the part of an inbound message the classifier looks at.
type Input struct {
	Body        string
	HasMedia    bool
	HasQuoted   bool
	QuotedBody  string
	ChatType    models.ChatType
	SenderMuted bool
}

// InputFromMessage builds classifier input from a validated message.
func InputFromMessage(msg *models.InboundMessage, senderMuted bool) Input {
	in := Input{
		Body:        msg.Body,
		HasMedia:    msg.HasMedia(),
		HasQuoted:   msg.HasQuoted(),
		ChatType:    msg.ChatType,
		SenderMuted: senderMuted,
	}
	if msg.Quoted != nil {
		in.QuotedBody = msg.Quoted.Body
	}
	return in
}

// Result is the classified intent plus its parsed arguments.
type Result struct {
	Intent Intent
	// Count is the repeat count for IntentRepeatQuoted; 0 when missing or invalid.
	Count int
	// Prompt is the generation prompt for the AI intents.
	Prompt string
	// FromQuoted is set for IntentStickerConvert when the quoted message is the media source.
	FromQuoted bool
}

// Rule pairs a predicate with the intent it yields and an argument extractor.
type Rule struct {
	Name    string
	Intent  Intent
	Match   func(Input) bool
	Extract func(Input, *Result)
}

var rules = []Rule{
	{
		Name:   "muted sender in group",
		Intent: IntentDeleteMutedMessage,
		Match:  func(in Input) bool { return in.SenderMuted && in.ChatType == models.ChatGroup },
	},
	{
		Name:   "tag all",
		Intent: IntentTagAll,
		Match:  exact(KeywordTagAll),
	},
	{
		Name:   "group id",
		Intent: IntentGroupInfo,
		Match: func(in Input) bool {
			b := strings.ToLower(in.Body)
			return b == KeywordGroupID || b == KeywordIDGrup
		},
	},
	{
		Name:    "repeat quoted",
		Intent:  IntentRepeatQuoted,
		Match:   prefix(KeywordRepeat),
		Extract: func(in Input, r *Result) { r.Count = ParseRepeatCount(in.Body) },
	},
	{
		Name:   "ai vision",
		Intent: IntentAiVision,
		Match:  func(in Input) bool { return in.HasMedia && strings.HasPrefix(in.Body, KeywordAI) },
		Extract: func(in Input, r *Result) {
			r.Prompt = strings.TrimSpace(in.Body[len(KeywordAI):])
			if r.Prompt == "" {
				r.Prompt = DefaultVisionPrompt
			}
		},
	},
	{
		Name:   "ai text",
		Intent: IntentAiText,
		Match:  prefix(KeywordAI),
		Extract: func(in Input, r *Result) {
			r.Prompt = strings.TrimSpace(in.Body[len(KeywordAI):])
			if q := strings.TrimSpace(in.QuotedBody); in.HasQuoted && q != "" {
				r.Prompt = r.Prompt + "\n\n" + q
			}
		},
	},
	{Name: "silence", Intent: IntentSilence, Match: exact(KeywordSilence)},
	{Name: "unsilence", Intent: IntentUnsilence, Match: exact(KeywordUnsilent)},
	{Name: "kick", Intent: IntentKick, Match: exact(KeywordKick)},
	{Name: "allow admin", Intent: IntentAllowAdmin, Match: exact(KeywordAllow)},
	{Name: "revoke admin", Intent: IntentRevokeAdmin, Match: exact(KeywordRevoke)},
	{Name: "list admins", Intent: IntentListAdmins, Match: exact(KeywordList)},
	{
		Name:    "sticker",
		Intent:  IntentStickerConvert,
		Match:   exact(KeywordSticker),
		Extract: func(in Input, r *Result) { r.FromQuoted = in.HasQuoted },
	},
}

// Rules returns the rule list in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Classify returns the intent of the first matching rule, or IntentNone.
func Classify(in Input) Result {
	for _, rule := range rules {
		if !rule.Match(in) {
			continue
		}
		r := Result{Intent: rule.Intent}
		if rule.Extract != nil {
			rule.Extract(in, &r)
		}
		return r
	}
	return Result{Intent: IntentNone}
}

// ParseRepeatCount reads the count from the second whitespace separated token.
// It returns 0 when the token is missing, not a number or not positive.
func ParseRepeatCount(body string) int {
	fields := strings.Fields(body)
	if len(fields) < 2 {
		return 0
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

func exact(keyword string) func(Input) bool {
	return func(in Input) bool { return in.Body == keyword }
}

func prefix(keyword string) func(Input) bool {
	return func(in Input) bool { return strings.HasPrefix(in.Body, keyword) }
}
