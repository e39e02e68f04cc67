package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"converse/pkg/logger"
	"converse/pkg/models"

	"github.com/cockroachdb/pebble"
)

var db *pebble.DB

// verSeq disambiguates version keys written within the same nanosecond.
var verSeq uint64

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_pebble_db", zap.String("path", path))
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("pebble_open_failed", zap.String("path", path), zap.Error(err))
		return err
	}
	logger.Info("pebble_opened", zap.String("path", path))
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("pebble_closed")
	return nil
}

// Ready reports whether the store is opened and ready.
func Ready() bool {
	return db != nil
}

func notOpened() error {
	return fmt.Errorf("pebble not opened; call store.Open first")
}

func mapErr(err error) error {
	if errors.Is(err, pebble.ErrNotFound) {
		return models.ErrNotFound
	}
	return err
}

// Txn groups multiple writes into one batch committed atomically with a
// synced WAL write. All mutations that must be visible together (message
// plus counters plus receipts) go through a single Txn.
type Txn struct {
	b *pebble.Batch
}

// NewTxn begins a write batch. Commit or Discard must be called.
func NewTxn() (*Txn, error) {
	if db == nil {
		return nil, notOpened()
	}
	return &Txn{b: db.NewBatch()}, nil
}

// Commit applies the batch with a synced write.
func (t *Txn) Commit() error {
	if err := t.b.Commit(pebble.Sync); err != nil {
		logger.Error("txn_commit_failed", zap.Error(err))
		return err
	}
	return nil
}

// Discard abandons the batch without applying it.
func (t *Txn) Discard() {
	_ = t.b.Close()
}

// SaveConversation writes the conversation metadata record.
func (t *Txn) SaveConversation(c models.Conversation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}
	return t.b.Set([]byte(convMetaKey(c.ID)), data, nil)
}

// SaveMessage writes the message under its conversation sequence key and
// maintains the id index pointing at the primary key.
func (t *Txn) SaveMessage(m models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	primary := convMsgKey(m.Conversation, m.Seq)
	if err := t.b.Set([]byte(primary), data, nil); err != nil {
		return err
	}
	return t.b.Set([]byte(msgIdxKey(m.ID)), []byte(primary), nil)
}

// SaveVersion appends an immutable snapshot of the message under the
// version namespace. Versions record content mutations, not status moves.
func (t *Txn) SaveVersion(m models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message version: %w", err)
	}
	ts := time.Now().UTC().UnixNano()
	n := atomic.AddUint64(&verSeq, 1)
	return t.b.Set([]byte(versionKey(m.ID, ts, n)), data, nil)
}

// SaveReadReceipt records that a user has read a message.
func (t *Txn) SaveReadReceipt(r models.ReadReceipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal read receipt: %w", err)
	}
	return t.b.Set([]byte(readReceiptKey(r.Message, r.User)), data, nil)
}

// SaveDeliveryReceipt records that a message reached a recipient.
func (t *Txn) SaveDeliveryReceipt(r models.DeliveryReceipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery receipt: %w", err)
	}
	return t.b.Set([]byte(deliveryReceiptKey(r.Message, r.User)), data, nil)
}

// SaveReaction records an emoji reaction on a message.
func (t *Txn) SaveReaction(r models.Reaction) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal reaction: %w", err)
	}
	return t.b.Set([]byte(reactionKey(r.Message, r.User, r.Emoji)), data, nil)
}

// DeleteReaction removes a previously stored reaction. Deleting a
// missing key is a no-op.
func (t *Txn) DeleteReaction(msgID, userID, emoji string) error {
	return t.b.Delete([]byte(reactionKey(msgID, userID, emoji)), nil)
}

// SetUnread writes the unread counter for a user in a conversation.
func (t *Txn) SetUnread(convID, userID string, n uint64) error {
	return t.b.Set([]byte(unreadKey(convID, userID)), []byte(strconv.FormatUint(n, 10)), nil)
}

// DeleteUnread removes the unread counter key for a user in a
// conversation.
func (t *Txn) DeleteUnread(convID, userID string) error {
	return t.b.Delete([]byte(unreadKey(convID, userID)), nil)
}

// SaveIdempotency maps a client idempotency key to the message it produced.
func (t *Txn) SaveIdempotency(convID, userID, key, msgID string) error {
	return t.b.Set([]byte(idemKey(convID, userID, key)), []byte(msgID), nil)
}

// AddUserConversation records conversation membership for listing.
func (t *Txn) AddUserConversation(userID, convID string) error {
	return t.b.Set([]byte(userConvKey(userID, convID)), []byte("1"), nil)
}

// GetConversation returns the conversation metadata for the given ID.
func GetConversation(convID string) (models.Conversation, error) {
	var c models.Conversation
	if db == nil {
		return c, notOpened()
	}
	v, closer, err := db.Get([]byte(convMetaKey(convID)))
	if err != nil {
		return c, mapErr(err)
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &c); err != nil {
		return c, fmt.Errorf("invalid conversation JSON: %w", err)
	}
	return c, nil
}

// ListConversations returns every stored conversation record, in key
// order. Used by the reconcile job; request paths go through the
// per-user membership index instead.
func ListConversations() ([]models.Conversation, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte("conv:")
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !strings.HasSuffix(string(iter.Key()), ":meta") {
			continue
		}
		var c models.Conversation
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("invalid conversation JSON: %w", err)
		}
		out = append(out, c)
	}
	return out, iter.Error()
}

// ListUserConversationIDs returns the IDs of every conversation the user
// belongs to, in key order.
func ListUserConversationIDs(userID string) ([]string, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte(userConvPrefix(userID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []string
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		out = append(out, strings.TrimPrefix(string(iter.Key()), string(prefix)))
	}
	return out, iter.Error()
}

// GetMessage looks a message up by ID via the index key.
func GetMessage(msgID string) (models.Message, error) {
	var m models.Message
	if db == nil {
		return m, notOpened()
	}
	pk, closer, err := db.Get([]byte(msgIdxKey(msgID)))
	if err != nil {
		return m, mapErr(err)
	}
	primary := append([]byte(nil), pk...)
	closer.Close()

	v, closer, err := db.Get(primary)
	if err != nil {
		return m, mapErr(err)
	}
	defer closer.Close()
	if err := json.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("invalid message JSON: %w", err)
	}
	return m, nil
}

// ListMessages returns up to limit messages of a conversation with
// Seq > afterSeq, in ascending sequence order. limit <= 0 means no cap.
func ListMessages(convID string, afterSeq uint64, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte(convMsgPrefix(convID))
	start := []byte(convMsgKey(convID, afterSeq+1))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(start); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Error("list_messages_invalid_json", zap.String("key", string(iter.Key())), zap.Error(err))
			return nil, fmt.Errorf("invalid message JSON: %w", err)
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, iter.Error()
}

// ListMessagesBefore returns up to limit messages with Seq < beforeSeq,
// in ascending sequence order (the limit window closest to beforeSeq).
func ListMessagesBefore(convID string, beforeSeq uint64, limit int) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	if beforeSeq == 0 {
		return nil, nil
	}
	prefix := []byte(convMsgPrefix(convID))
	upper := []byte(convMsgKey(convID, beforeSeq))
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var rev []models.Message
	for iter.Last(); iter.Valid(); iter.Prev() {
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message JSON: %w", err)
		}
		rev = append(rev, m)
		if limit > 0 && len(rev) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		out = append(out, rev[i])
	}
	return out, nil
}

// ListVersions returns all stored versions for a message ID in
// chronological order.
func ListVersions(msgID string) ([]models.Message, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte(versionPrefix(msgID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			return nil, fmt.Errorf("invalid message version JSON: %w", err)
		}
		out = append(out, m)
	}
	return out, iter.Error()
}

// ListReadReceipts returns every read receipt stored for a message.
func ListReadReceipts(msgID string) ([]models.ReadReceipt, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte(readReceiptPrefix(msgID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.ReadReceipt
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var r models.ReadReceipt
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("invalid read receipt JSON: %w", err)
		}
		out = append(out, r)
	}
	return out, iter.Error()
}

// ListDeliveryReceipts returns every delivery receipt stored for a message.
func ListDeliveryReceipts(msgID string) ([]models.DeliveryReceipt, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte(deliveryReceiptPrefix(msgID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.DeliveryReceipt
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var r models.DeliveryReceipt
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("invalid delivery receipt JSON: %w", err)
		}
		out = append(out, r)
	}
	return out, iter.Error()
}

// ListReactions returns every reaction stored for a message, in key
// order (user, then emoji).
func ListReactions(msgID string) ([]models.Reaction, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte(reactionPrefix(msgID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Reaction
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var r models.Reaction
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			return nil, fmt.Errorf("invalid reaction JSON: %w", err)
		}
		out = append(out, r)
	}
	return out, iter.Error()
}

// HasReaction reports whether user already attached emoji to the message.
func HasReaction(msgID, userID, emoji string) (bool, error) {
	if db == nil {
		return false, notOpened()
	}
	_, closer, err := db.Get([]byte(reactionKey(msgID, userID, emoji)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// HasReadReceipt reports whether user has a read receipt for the message.
func HasReadReceipt(msgID, userID string) (bool, error) {
	if db == nil {
		return false, notOpened()
	}
	_, closer, err := db.Get([]byte(readReceiptKey(msgID, userID)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// HasDeliveryReceipt reports whether user has a delivery receipt for the
// message.
func HasDeliveryReceipt(msgID, userID string) (bool, error) {
	if db == nil {
		return false, notOpened()
	}
	_, closer, err := db.Get([]byte(deliveryReceiptKey(msgID, userID)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

// GetUnread returns the stored unread counter; a missing key reads as 0.
func GetUnread(convID, userID string) (uint64, error) {
	if db == nil {
		return 0, notOpened()
	}
	v, closer, err := db.Get([]byte(unreadKey(convID, userID)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	defer closer.Close()
	n, err := strconv.ParseUint(string(v), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid unread counter: %w", err)
	}
	return n, nil
}

// ListUnread returns every stored unread counter for a conversation,
// keyed by user ID, including counters for users no longer listed as
// participants.
func ListUnread(convID string) (map[string]uint64, error) {
	if db == nil {
		return nil, notOpened()
	}
	prefix := []byte(unreadPrefix(convID))
	iter, err := db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	out := map[string]uint64{}
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		user := strings.TrimPrefix(string(iter.Key()), string(prefix))
		n, err := strconv.ParseUint(string(iter.Value()), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid unread counter: %w", err)
		}
		out[user] = n
	}
	return out, iter.Error()
}

// GetIdempotency returns the message ID previously stored for the client
// key, or ok=false when the key is unused.
func GetIdempotency(convID, userID, key string) (string, bool, error) {
	if db == nil {
		return "", false, notOpened()
	}
	v, closer, err := db.Get([]byte(idemKey(convID, userID, key)))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	defer closer.Close()
	return string(v), true, nil
}
