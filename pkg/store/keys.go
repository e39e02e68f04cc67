package store

import "fmt"

// Key layout. All keys are ASCII and sort the way iteration needs them to:
//
//	conv:<convID>:meta                       conversation metadata JSON
//	conv:<convID>:msg:<seq padded>           message JSON, seq ascending
//	msg:<msgID>                              pointer to the primary message key
//	version:msg:<msgID>:<ts padded>-<n>      append-only message versions
//	receipt:read:<msgID>:<userID>            read receipt JSON
//	receipt:delivery:<msgID>:<userID>        delivery receipt JSON
//	reaction:<msgID>:<userID>:<emoji>        reaction JSON
//	unread:<convID>:<userID>                 unread counter, decimal string
//	idem:<convID>:<userID>:<key>             idempotency key -> message ID
//	user:<userID>:conv:<convID>              membership marker
func convMetaKey(convID string) string {
	return "conv:" + convID + ":meta"
}

func convMsgPrefix(convID string) string {
	return "conv:" + convID + ":msg:"
}

func convMsgKey(convID string, seq uint64) string {
	return fmt.Sprintf("conv:%s:msg:%020d", convID, seq)
}

func msgIdxKey(msgID string) string {
	return "msg:" + msgID
}

func versionPrefix(msgID string) string {
	return "version:msg:" + msgID + ":"
}

func versionKey(msgID string, ts int64, n uint64) string {
	return fmt.Sprintf("version:msg:%s:%020d-%06d", msgID, ts, n)
}

func readReceiptPrefix(msgID string) string {
	return "receipt:read:" + msgID + ":"
}

func readReceiptKey(msgID, userID string) string {
	return "receipt:read:" + msgID + ":" + userID
}

func deliveryReceiptPrefix(msgID string) string {
	return "receipt:delivery:" + msgID + ":"
}

func deliveryReceiptKey(msgID, userID string) string {
	return "receipt:delivery:" + msgID + ":" + userID
}

func reactionPrefix(msgID string) string {
	return "reaction:" + msgID + ":"
}

func reactionKey(msgID, userID, emoji string) string {
	return "reaction:" + msgID + ":" + userID + ":" + emoji
}

func unreadKey(convID, userID string) string {
	return "unread:" + convID + ":" + userID
}

func unreadPrefix(convID string) string {
	return "unread:" + convID + ":"
}

func idemKey(convID, userID, key string) string {
	return "idem:" + convID + ":" + userID + ":" + key
}

func userConvPrefix(userID string) string {
	return "user:" + userID + ":conv:"
}

func userConvKey(userID, convID string) string {
	return "user:" + userID + ":conv:" + convID
}
