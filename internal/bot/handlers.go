package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ChatWarden/internal/audit"
	"github.com/BTreeMap/ChatWarden/internal/command"
	"github.com/BTreeMap/ChatWarden/internal/models"
	"github.com/BTreeMap/ChatWarden/internal/sticker"
)

// Reply texts.
const (
	MsgAdminOnly       = "Only admins can use this feature."
	MsgOwnerOnly       = "Only the owner can use this feature."
	MsgGroupOnly       = "This command can only be used in groups."
	MsgGroupOnlyID     = "⚠️ Command ini hanya bisa digunakan di grup."
	MsgRepeatFormat    = `Format salah. Gunakan "ulang [jumlah]" untuk mengulang pesan yang di-reply.`
	MsgRepeatNoQuote   = "Silakan reply sebuah pesan untuk mengulangnya."
	MsgContactFailed   = "Failed to get contact information."
	MsgKickFailed      = "❌ Failed to kick the member. Make sure I have admin rights."
	MsgNoAdmins        = "📋 No additional admins have been added."
	MsgAdminListHeader = "👥 *Admin List:*\n\n"
	MsgTagAllAck       = "Ok sir"
	MsgAIFailed        = "Sorry Boss, I had trouble with that request."
	MsgVisionFailed    = "Sorry Boss, I had trouble understanding that image."
	MsgVisionPrefix    = "Of course, Boss. Regarding the image you sent:\n\n"
	MsgStickerNoMedia  = "Please send or reply to an image/video to create a sticker."
	MsgStickerFailed   = "Failed to download media for sticker."
	MsgStickerConvert  = "Failed to convert that media into a sticker."
	MsgStickerNoVideo  = "Video stickers are not enabled here. Please send an image instead."
	MsgStickerBadMedia = "Only images and short videos can become stickers."
)

func (b *Bot) handleDeleteMuted(ctx context.Context, msg *models.InboundMessage, _ command.Result) error {
	if err := b.Gateway.DeleteForEveryone(ctx, msg); err != nil {
		return fmt.Errorf("delete muted message %s: %w", msg.ID, err)
	}
	err := b.Store.Update(ctx, func(doc *models.ModerationDocument) error {
		doc.AppendDeletion(models.DeletionRecord{
			MessageID: msg.ID,
			Author:    msg.Sender,
			Body:      msg.Body,
			GroupID:   msg.ChatID,
			Time:      b.now().UTC(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("log muted deletion: %w", err)
	}
	slog.Info("Bot: deleted message from muted member", "sender", msg.Sender, "chat", msg.ChatID)
	b.record(ctx, audit.Entry{Action: audit.ActionDeleteMuted, Target: msg.Sender, ChatID: msg.ChatID, Detail: msg.ID})
	return nil
}

func (b *Bot) handleTagAll(ctx context.Context, msg *models.InboundMessage, _ command.Result) error {
	if !msg.IsGroup() {
		return b.Gateway.Reply(ctx, msg, MsgGroupOnly)
	}
	if err := b.Gateway.Reply(ctx, msg, MsgTagAllAck); err != nil {
		return err
	}
	info, err := b.Gateway.GroupInfo(ctx, msg.ChatID)
	if err != nil {
		return fmt.Errorf("tagall: %w", err)
	}
	var text strings.Builder
	ids := info.ParticipantIDs()
	for _, id := range ids {
		text.WriteString("@" + models.UserPart(id) + " ")
	}
	return b.Gateway.SendMentions(ctx, msg.ChatID, text.String(), ids)
}

func (b *Bot) handleGroupInfo(ctx context.Context, msg *models.InboundMessage, _ command.Result) error {
	if !msg.IsGroup() {
		return b.Gateway.Reply(ctx, msg, MsgGroupOnlyID)
	}
	info, err := b.Gateway.GroupInfo(ctx, msg.ChatID)
	if err != nil {
		return fmt.Errorf("group info: %w", err)
	}
	card := fmt.Sprintf("📋 *Informasi Grup*\n\nNama: *%s*\nID: `%s`\nAnggota: %d\n\nCopy ID di atas untuk digunakan di konfigurasi bot.",
		info.Name, msg.ChatID, len(info.Participants))
	return b.Gateway.Reply(ctx, msg, card)
}

func (b *Bot) handleRepeat(ctx context.Context, msg *models.InboundMessage, res command.Result) error {
	if res.Count <= 0 {
		return b.Gateway.Reply(ctx, msg, MsgRepeatFormat)
	}
	if msg.Quoted == nil || msg.Quoted.Body == "" {
		return b.Gateway.Reply(ctx, msg, MsgRepeatNoQuote)
	}
	for i := 0; i < res.Count; i++ {
		if err := b.Gateway.Reply(ctx, msg, msg.Quoted.Body); err != nil {
			return fmt.Errorf("repeat %d/%d: %w", i+1, res.Count, err)
		}
	}
	return nil
}

func (b *Bot) handleAiVision(ctx context.Context, msg *models.InboundMessage, res command.Result) error {
	ok, err := b.isAdmin(ctx, msg.Sender)
	if err != nil {
		return err
	}
	if !ok {
		return b.Gateway.Reply(ctx, msg, MsgAdminOnly)
	}
	if !strings.HasPrefix(msg.Media.MimeType, "image/") {
		slog.Debug("Bot: vision request ignored for non-image media", "mime", msg.Media.MimeType)
		return nil
	}
	if b.Generator == nil {
		slog.Warn("Bot: vision request without a generation backend")
		return b.Gateway.Reply(ctx, msg, MsgVisionFailed)
	}

	data, err := b.Gateway.DownloadMedia(ctx, msg.Media)
	if err != nil {
		slog.Error("Bot: vision media download failed", "error", err, "id", msg.ID)
		return b.Gateway.Reply(ctx, msg, MsgVisionFailed)
	}
	aiCtx, cancel := context.WithTimeout(ctx, b.opts.AITimeout)
	defer cancel()
	answer, err := b.Generator.DescribeImage(aiCtx, res.Prompt, msg.Media.MimeType, data)
	if err != nil {
		slog.Error("Bot: vision generation failed", "error", err, "id", msg.ID)
		return b.Gateway.Reply(ctx, msg, MsgVisionFailed)
	}
	return b.Gateway.Reply(ctx, msg, MsgVisionPrefix+answer)
}

func (b *Bot) handleAiText(ctx context.Context, msg *models.InboundMessage, res command.Result) error {
	if !b.Policy.IsOwner(msg.Sender) {
		return b.Gateway.Reply(ctx, msg, MsgOwnerOnly)
	}
	if b.Generator == nil {
		slog.Warn("Bot: text request without a generation backend")
		return b.Gateway.Reply(ctx, msg, MsgAIFailed)
	}
	aiCtx, cancel := context.WithTimeout(ctx, b.opts.AITimeout)
	defer cancel()
	answer, err := b.Generator.GenerateText(aiCtx, b.opts.SystemPrompt, res.Prompt)
	if err != nil {
		slog.Error("Bot: text generation failed", "error", err, "id", msg.ID)
		return b.Gateway.Reply(ctx, msg, MsgAIFailed)
	}
	return b.Gateway.Reply(ctx, msg, answer)
}

// moderationTarget runs the checks shared by the reply-targeted commands:
// group chat, quoted message, resolvable contact. ok is false when a reply
// was already sent and the command must stop.
func (b *Bot) moderationTarget(ctx context.Context, msg *models.InboundMessage, action string) (target, name string, ok bool, err error) {
	if !msg.IsGroup() {
		return "", "", false, b.Gateway.Reply(ctx, msg, MsgGroupOnly)
	}
	if msg.Quoted == nil {
		return "", "", false, b.Gateway.Reply(ctx, msg, fmt.Sprintf("Please reply to a message to %s.", action))
	}
	target = models.NormalizeIdentity(msg.Quoted.Author)
	if target == "" {
		return "", "", false, b.Gateway.Reply(ctx, msg, MsgContactFailed)
	}
	name, cerr := b.Gateway.ContactName(ctx, target)
	if cerr != nil {
		slog.Warn("Bot: contact lookup failed", "target", target, "error", cerr)
		return "", "", false, b.Gateway.Reply(ctx, msg, MsgContactFailed)
	}
	if name == "" {
		name = models.UserPart(target)
	}
	return target, name, true, nil
}

func (b *Bot) requireAdmin(ctx context.Context, msg *models.InboundMessage) (bool, error) {
	ok, err := b.isAdmin(ctx, msg.Sender)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, b.Gateway.Reply(ctx, msg, MsgAdminOnly)
	}
	return true, nil
}

func (b *Bot) requireOwner(ctx context.Context, msg *models.InboundMessage) (bool, error) {
	if b.Policy.IsOwner(msg.Sender) {
		return true, nil
	}
	return false, b.Gateway.Reply(ctx, msg, MsgOwnerOnly)
}

func (b *Bot) handleSilence(ctx context.Context, msg *models.InboundMessage, _ command.Result) error {
	if ok, err := b.requireAdmin(ctx, msg); !ok {
		return err
	}
	target, name, ok, err := b.moderationTarget(ctx, msg, "silent the sender")
	if !ok {
		return err
	}
	var changed bool
	if err := b.Store.Update(ctx, func(doc *models.ModerationDocument) error {
		changed = doc.Mute(target)
		return nil
	}); err != nil {
		return fmt.Errorf("mute %s: %w", target, err)
	}
	if !changed {
		return b.Gateway.Reply(ctx, msg, fmt.Sprintf("⚠️ %s is already muted.", name))
	}
	b.record(ctx, audit.Entry{Action: audit.ActionMute, Actor: msg.Sender, Target: target, ChatID: msg.ChatID})
	return b.Gateway.Reply(ctx, msg, fmt.Sprintf("✅ %s is now muted.", name))
}

func (b *Bot) handleUnsilence(ctx context.Context, msg *models.InboundMessage, _ command.Result) error {
	if ok, err := b.requireAdmin(ctx, msg); !ok {
		return err
	}
	target, name, ok, err := b.moderationTarget(ctx, msg, "unsilent the sender")
	if !ok {
		return err
	}
	var changed bool
	if err := b.Store.Update(ctx, func(doc *models.ModerationDocument) error {
		changed = doc.Unmute(target)
		return nil
	}); err != nil {
		return fmt.Errorf("unmute %s: %w", target, err)
	}
	if !changed {
		return b.Gateway.Reply(ctx, msg, fmt.Sprintf("⚠️ %s is not muted.", name))
	}
	b.record(ctx, audit.Entry{Action: audit.ActionUnmute, Actor: msg.Sender, Target: target, ChatID: msg.ChatID})
	return b.Gateway.Reply(ctx, msg, fmt.Sprintf("✅ %s is now unmuted.", name))
}

func (b *Bot) handleKick(ctx context.Context, msg *models.InboundMessage, _ command.Result) error {
	if ok, err := b.requireAdmin(ctx, msg); !ok {
		return err
	}
	target, name, ok, err := b.moderationTarget(ctx, msg, "kick the sender")
	if !ok {
		return err
	}
	if err := b.Gateway.RemoveParticipants(ctx, msg.ChatID, []string{target}); err != nil {
		slog.Error("Bot: kick failed", "target", target, "chat", msg.ChatID, "error", err)
		return b.Gateway.Reply(ctx, msg, MsgKickFailed)
	}
	b.record(ctx, audit.Entry{Action: audit.ActionKick, Actor: msg.Sender, Target: target, ChatID: msg.ChatID})
	return b.Gateway.Reply(ctx, msg, fmt.Sprintf("✅ %s has been kicked.", name))
}

func (b *Bot) handleAllowAdmin(ctx context.Context, msg *models.InboundMessage, _ command.Result) error {
	if ok, err := b.requireOwner(ctx, msg); !ok {
		return err
	}
	target, name, ok, err := b.moderationTarget(ctx, msg, "grant admin access to the sender")
	if !ok {
		return err
	}
	var changed bool
	if err := b.Store.Update(ctx, func(doc *models.ModerationDocument) error {
		changed = doc.Grant(target)
		return nil
	}); err != nil {
		return fmt.Errorf("grant admin %s: %w", target, err)
	}
	if !changed {
		return b.Gateway.Reply(ctx, msg, fmt.Sprintf("⚠️ %s already has admin access.", name))
	}
	b.record(ctx, audit.Entry{Action: audit.ActionGrantAdmin, Actor: msg.Sender, Target: target, ChatID: msg.ChatID})
	return b.Gateway.Reply(ctx, msg, fmt.Sprintf("✅ %s has been granted admin access.", name))
}

func (b *Bot) handleRevokeAdmin(ctx context.Context, msg *models.InboundMessage, _ command.Result) error {
	if ok, err := b.requireOwner(ctx, msg); !ok {
		return err
	}
	target, name, ok, err := b.moderationTarget(ctx, msg, "revoke admin access from the sender")
	if !ok {
		return err
	}
	var changed bool
	if err := b.Store.Update(ctx, func(doc *models.ModerationDocument) error {
		changed = doc.Revoke(target)
		return nil
	}); err != nil {
		return fmt.Errorf("revoke admin %s: %w", target, err)
	}
	if !changed {
		return b.Gateway.Reply(ctx, msg, fmt.Sprintf("⚠️ %s does not have admin access.", name))
	}
	b.record(ctx, audit.Entry{Action: audit.ActionRevokeAdmin, Actor: msg.Sender, Target: target, ChatID: msg.ChatID})
	return b.Gateway.Reply(ctx, msg, fmt.Sprintf("✅ Admin access revoked from %s.", name))
}

func (b *Bot) handleListAdmins(ctx context.Context, msg *models.InboundMessage, _ command.Result) error {
	if ok, err := b.requireOwner(ctx, msg); !ok {
		return err
	}
	var admins []string
	if err := b.Store.View(ctx, func(doc *models.ModerationDocument) {
		admins = append(admins, doc.Admins...)
	}); err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	if len(admins) == 0 {
		return b.Gateway.Reply(ctx, msg, MsgNoAdmins)
	}
	var list strings.Builder
	list.WriteString(MsgAdminListHeader)
	for i, id := range admins {
		name, err := b.Gateway.ContactName(ctx, id)
		if err != nil || name == "" {
			name = id
		}
		fmt.Fprintf(&list, "%d. %s\n", i+1, name)
	}
	return b.Gateway.Reply(ctx, msg, list.String())
}

func (b *Bot) handleSticker(ctx context.Context, msg *models.InboundMessage, res command.Result) error {
	if !msg.HasMedia() && !msg.HasQuoted() {
		return b.Gateway.Reply(ctx, msg, MsgStickerNoMedia)
	}
	source := msg.Media
	if res.FromQuoted {
		source = msg.Quoted.Media
	}
	if source == nil {
		return b.Gateway.Reply(ctx, msg, MsgStickerNoMedia)
	}
	data, err := b.Gateway.DownloadMedia(ctx, source)
	if err != nil {
		slog.Error("Bot: sticker media download failed", "error", err, "id", msg.ID)
		return b.Gateway.Reply(ctx, msg, MsgStickerFailed)
	}
	webp, err := b.stickers.Convert(ctx, data, source.MimeType)
	if err != nil {
		slog.Error("Bot: sticker conversion failed", "error", err, "mime", source.MimeType)
		switch {
		case errors.Is(err, sticker.ErrAnimationDisabled):
			return b.Gateway.Reply(ctx, msg, MsgStickerNoVideo)
		case errors.Is(err, sticker.ErrUnsupportedMedia):
			return b.Gateway.Reply(ctx, msg, MsgStickerBadMedia)
		default:
			return b.Gateway.Reply(ctx, msg, MsgStickerConvert)
		}
	}
	return b.Gateway.SendSticker(ctx, msg.ChatID, webp)
}
