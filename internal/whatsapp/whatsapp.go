// Package whatsapp wraps the whatsmeow client as the ChatWarden messaging gateway.
//
// It translates whatsmeow events into typed models.Event values, archives every
// inbound message, and implements the send, moderation and lookup operations
// the bot handlers use.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"golang.org/x/time/rate"
	"google.golang.org/protobuf/proto"

	"github.com/BTreeMap/ChatWarden/internal/models"
	"github.com/BTreeMap/ChatWarden/internal/sticker"
	"github.com/BTreeMap/ChatWarden/internal/store"
)

const (
	// DefaultSQLitePath is used when no database DSN is configured.
	DefaultSQLitePath = "/var/lib/chatwarden/chatwarden.db"
	// DefaultSendInterval paces outbound messages to stay clear of spam limits.
	DefaultSendInterval = 500 * time.Millisecond
	// DefaultSendBurst is how many messages may go out back to back.
	DefaultSendBurst = 5
)

// EventHandler receives validated gateway events.
type EventHandler func(models.Event)

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN        string        // whatsmeow session database
	QRPath       string        // where the terminal QR rendering is written; stdout when empty
	QRStatePath  string        // where the raw QR code is persisted for the dashboard
	NumericCode  bool          // print the raw pairing code instead of a QR rendering
	Archive      store.Archive // inbound message archive, optional
	SendInterval time.Duration
	SendBurst    int
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the WhatsApp/whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the terminal QR rendering to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithQRStatePath persists the current raw QR code to path while a scan is pending.
func WithQRStatePath(path string) Option {
	return func(o *Opts) {
		o.QRStatePath = path
	}
}

// WithNumericCode prints the raw login code instead of a QR rendering.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// WithArchive stores every inbound message in a. Redelivered messages are dropped.
func WithArchive(a store.Archive) Option {
	return func(o *Opts) {
		o.Archive = a
	}
}

// WithSendRate limits outbound messages to one per interval with the given burst.
func WithSendRate(interval time.Duration, burst int) Option {
	return func(o *Opts) {
		o.SendInterval = interval
		o.SendBurst = burst
	}
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{SendInterval: DefaultSendInterval, SendBurst: DefaultSendBurst}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DBDSN == "" {
		cfg.DBDSN = DefaultSQLitePath
	}
	if cfg.SendBurst < 1 {
		cfg.SendBurst = 1
	}
	return cfg
}

// Client wraps the whatsmeow client.
type Client struct {
	wa      *whatsmeow.Client
	cfg     Opts
	limiter *rate.Limiter

	mu      sync.RWMutex
	handler EventHandler
}

// NewClient opens the session store and prepares a client. Call Connect to log in.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := applyOpts(opts)
	slog.Debug("WhatsApp NewClient options set", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode, "archive", cfg.Archive != nil)

	dbDriver := store.DetectDSNType(cfg.DBDSN)
	if dbDriver == store.DSNTypeSQLite && !strings.Contains(cfg.DBDSN, "foreign_keys") {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+cfg.DBDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, dbDriver, cfg.DBDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	c := &Client{
		wa:      whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true)),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.SendInterval), cfg.SendBurst),
	}
	c.wa.AddEventHandler(c.handleEvent)
	slog.Debug("WhatsApp client created", "driver", dbDriver, "logged_in", c.wa.Store.ID != nil)
	return c, nil
}

// Subscribe sets the receiver of translated events. Only one handler is kept.
func (c *Client) Subscribe(h EventHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Client) emit(evt models.Event) {
	if err := evt.Validate(); err != nil {
		slog.Warn("WhatsApp event dropped", "kind", evt.Kind(), "error", err)
		return
	}
	c.mu.RLock()
	h := c.handler
	c.mu.RUnlock()
	if h != nil {
		h(evt)
	}
}

// Connect logs in. Without a stored device a QR login is started and its codes
// are rendered in the background; Connect returns once the socket is open.
func (c *Client) Connect(ctx context.Context) error {
	if c.wa.Store.ID != nil {
		slog.Debug("WhatsApp already logged in, connecting to server")
		if err := c.wa.Connect(); err != nil {
			return fmt.Errorf("failed to connect to WhatsApp server: %w", err)
		}
		return nil
	}

	slog.Info("WhatsApp login required; starting QR code flow")
	qrChan, err := c.wa.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("failed to open QR channel: %w", err)
	}
	if err := c.wa.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	go c.runQRLogin(qrChan)
	return nil
}

func (c *Client) runQRLogin(qrChan <-chan whatsmeow.QRChannelItem) {
	writer := io.Writer(os.Stdout)
	if c.cfg.QRPath != "" {
		f, err := os.Create(c.cfg.QRPath)
		if err != nil {
			slog.Error("Failed to create QR file, using stdout", "error", err, "path", c.cfg.QRPath)
		} else {
			defer f.Close()
			writer = f
		}
	}

	for evt := range qrChan {
		switch evt.Event {
		case "code":
			if c.cfg.NumericCode {
				fmt.Fprintln(writer, evt.Code)
			} else {
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
			}
			c.persistQR(evt.Code)
			c.emit(&models.SessionEvent{Type: models.SessionQR, QRCode: evt.Code})
		case "success":
			c.persistQR("")
			c.emit(&models.SessionEvent{Type: models.SessionAuthenticated})
		default:
			slog.Info("WhatsApp login event", "event", evt.Event)
			c.persistQR("")
			c.emit(&models.SessionEvent{Type: models.SessionDisconnected, Reason: "login " + evt.Event})
		}
	}
}

// persistQR writes code to the QR state file, or removes the file when code is empty.
func (c *Client) persistQR(code string) {
	if c.cfg.QRStatePath == "" {
		return
	}
	if code == "" {
		if err := os.Remove(c.cfg.QRStatePath); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove QR state file", "error", err)
		}
		return
	}
	if err := os.WriteFile(c.cfg.QRStatePath, []byte(code), 0600); err != nil {
		slog.Warn("Failed to persist QR code", "error", err, "path", c.cfg.QRStatePath)
	}
}

// Disconnect closes the socket.
func (c *Client) Disconnect() {
	c.wa.Disconnect()
}

// IsConnected reports whether the socket is open and logged in.
func (c *Client) IsConnected() bool {
	return c.wa.IsConnected() && c.wa.IsLoggedIn()
}

// GetClient returns the underlying whatsmeow client.
func (c *Client) GetClient() *whatsmeow.Client {
	return c.wa
}

func (c *Client) send(ctx context.Context, chatID string, msg *waE2E.Message) (whatsmeow.SendResponse, error) {
	var resp whatsmeow.SendResponse
	if !c.wa.IsConnected() {
		return resp, models.ErrNotConnected
	}
	jid, err := ToJID(chatID)
	if err != nil {
		return resp, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return resp, fmt.Errorf("send rate limit: %w", err)
	}
	resp, err = c.wa.SendMessage(ctx, jid, msg)
	if err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", chatID)
		return resp, fmt.Errorf("failed to send message to %s: %w", chatID, err)
	}
	slog.Debug("WhatsApp message sent", "to", chatID, "id", resp.ID)
	return resp, nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	if text == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	_, err := c.send(ctx, chatID, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

// Reply sends text quoting msg.
func (c *Client) Reply(ctx context.Context, msg *models.InboundMessage, text string) error {
	_, err := c.send(ctx, msg.ChatID, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: quoteContext(msg),
		},
	})
	return err
}

func quoteContext(msg *models.InboundMessage) *waE2E.ContextInfo {
	ci := &waE2E.ContextInfo{
		StanzaID:      proto.String(msg.ID),
		QuotedMessage: &waE2E.Message{Conversation: proto.String(msg.Body)},
	}
	if jid, err := ToJID(msg.Sender); err == nil {
		ci.Participant = proto.String(jid.String())
	}
	return ci
}

// SendMentions sends text that mentions each of ids.
func (c *Client) SendMentions(ctx context.Context, chatID, text string, ids []string) error {
	mentioned := make([]string, 0, len(ids))
	for _, id := range ids {
		jid, err := ToJID(id)
		if err != nil {
			slog.Warn("Skipping unparseable mention", "id", id, "error", err)
			continue
		}
		mentioned = append(mentioned, jid.String())
	}
	_, err := c.send(ctx, chatID, &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: &waE2E.ContextInfo{MentionedJID: mentioned},
		},
	})
	return err
}

func (c *Client) upload(ctx context.Context, data []byte, kind whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	if !c.wa.IsConnected() {
		return whatsmeow.UploadResponse{}, models.ErrNotConnected
	}
	resp, err := c.wa.Upload(ctx, data, kind)
	if err != nil {
		return resp, fmt.Errorf("failed to upload media: %w", err)
	}
	return resp, nil
}

// SendVoice uploads audio and sends it as a push-to-talk voice note.
func (c *Client) SendVoice(ctx context.Context, chatID string, audio []byte, mimeType string) error {
	up, err := c.upload(ctx, audio, whatsmeow.MediaAudio)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, chatID, &waE2E.Message{
		AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			PTT:           proto.Bool(true),
		},
	})
	return err
}

// SendSticker uploads a WebP image and sends it as a sticker.
func (c *Client) SendSticker(ctx context.Context, chatID string, webp []byte) error {
	up, err := c.upload(ctx, webp, whatsmeow.MediaImage)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, chatID, &waE2E.Message{
		StickerMessage: &waE2E.StickerMessage{
			Mimetype:      proto.String(sticker.MimeType),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Height:        proto.Uint32(sticker.Size),
			Width:         proto.Uint32(sticker.Size),
			IsAnimated:    proto.Bool(sticker.IsAnimated(webp)),
		},
	})
	return err
}

// SendMedia re-sends an archived media message. The caption replaces the
// original one on media types that carry captions; for the others it follows
// as a separate text message.
func (c *Client) SendMedia(ctx context.Context, chatID string, archived *store.ArchivedMessage, caption string) error {
	if len(archived.Raw) == 0 {
		return models.ErrNoMedia
	}
	var msg waE2E.Message
	if err := proto.Unmarshal(archived.Raw, &msg); err != nil {
		return fmt.Errorf("failed to decode archived message %s: %w", archived.MessageID, err)
	}
	captioned := true
	switch {
	case msg.ImageMessage != nil:
		msg.ImageMessage.Caption = proto.String(caption)
		msg.ImageMessage.ContextInfo = nil
	case msg.VideoMessage != nil:
		msg.VideoMessage.Caption = proto.String(caption)
		msg.VideoMessage.ContextInfo = nil
	case msg.DocumentMessage != nil:
		msg.DocumentMessage.Caption = proto.String(caption)
		msg.DocumentMessage.ContextInfo = nil
	case msg.AudioMessage != nil, msg.StickerMessage != nil:
		captioned = false
	default:
		return models.ErrNoMedia
	}
	if _, err := c.send(ctx, chatID, &msg); err != nil {
		return err
	}
	if !captioned && caption != "" {
		return c.SendText(ctx, chatID, caption)
	}
	return nil
}

// DeleteForEveryone revokes msg. Deleting someone else's message needs group admin rights.
func (c *Client) DeleteForEveryone(ctx context.Context, msg *models.InboundMessage) error {
	chat, err := ToJID(msg.ChatID)
	if err != nil {
		return err
	}
	sender := types.EmptyJID
	if !msg.FromMe {
		if sender, err = ToJID(msg.Sender); err != nil {
			return err
		}
	}
	_, err = c.send(ctx, msg.ChatID, c.wa.BuildRevoke(chat, sender, msg.ID))
	return err
}

// RemoveParticipants removes ids from the group.
func (c *Client) RemoveParticipants(ctx context.Context, groupID string, ids []string) error {
	group, err := ToJID(groupID)
	if err != nil {
		return err
	}
	jids := make([]types.JID, 0, len(ids))
	for _, id := range ids {
		jid, err := ToJID(id)
		if err != nil {
			return err
		}
		jids = append(jids, jid)
	}
	result, err := c.wa.UpdateGroupParticipants(group, jids, whatsmeow.ParticipantChangeRemove)
	if err != nil {
		return fmt.Errorf("failed to remove participants from %s: %w", groupID, err)
	}
	for _, p := range result {
		if p.Error != 0 {
			return fmt.Errorf("failed to remove %s from %s: error code %d", p.JID, groupID, p.Error)
		}
	}
	return nil
}

// GroupInfo fetches group metadata.
func (c *Client) GroupInfo(ctx context.Context, groupID string) (*models.GroupInfo, error) {
	if !models.IsGroupID(groupID) {
		return nil, models.ErrNotInGroup
	}
	jid, err := ToJID(groupID)
	if err != nil {
		return nil, err
	}
	info, err := c.wa.GetGroupInfo(jid)
	if err != nil {
		return nil, fmt.Errorf("failed to get group info for %s: %w", groupID, err)
	}
	return convertGroupInfo(info), nil
}

func convertGroupInfo(info *types.GroupInfo) *models.GroupInfo {
	g := &models.GroupInfo{
		ID:      info.JID.String(),
		Name:    info.Name,
		Topic:   info.Topic,
		Created: info.GroupCreated,
	}
	if !info.OwnerJID.IsEmpty() {
		g.Owner = identityOf(info.OwnerJID)
	}
	for _, p := range info.Participants {
		g.Participants = append(g.Participants, models.GroupParticipant{
			ID:           identityOf(p.JID),
			IsAdmin:      p.IsAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
		})
	}
	return g
}

// ContactName returns the best known display name for id, falling back to the number.
func (c *Client) ContactName(ctx context.Context, id string) (string, error) {
	jid, err := ToJID(id)
	if err != nil {
		return "", err
	}
	contact, err := c.wa.Store.Contacts.GetContact(ctx, jid)
	if err != nil {
		return "", fmt.Errorf("failed to get contact %s: %w", id, err)
	}
	for _, name := range []string{contact.PushName, contact.FullName, contact.FirstName, contact.BusinessName} {
		if name != "" {
			return name, nil
		}
	}
	return jid.User, nil
}

// DownloadMedia fetches and decrypts the media referenced by ref.
func (c *Client) DownloadMedia(ctx context.Context, ref *models.MediaRef) ([]byte, error) {
	if ref == nil {
		return nil, models.ErrNoMedia
	}
	d, ok := ref.Source.(whatsmeow.DownloadableMessage)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no downloadable source", models.ErrNoMedia, ref.Kind)
	}
	data, err := c.wa.Download(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", ref.Kind, err)
	}
	return data, nil
}

// ToJID parses an identity in either the @c.us or whatsmeow spelling.
func ToJID(id string) (types.JID, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return types.EmptyJID, models.ErrEmptyIdentity
	}
	if !strings.Contains(id, "@") || strings.HasSuffix(id, models.UserSuffix) {
		return types.NewJID(models.UserPart(strings.TrimPrefix(id, "+")), types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(id)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("invalid identity %q: %w", id, err)
	}
	return jid, nil
}

// identityOf maps a JID onto the identity form used throughout the bot.
func identityOf(jid types.JID) string {
	return models.NormalizeIdentity(jid.ToNonAD().String())
}
