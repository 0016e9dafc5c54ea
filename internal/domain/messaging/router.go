package messaging

import "github.com/google/uuid"

// Classify decides which thread a message belongs to. A message is on the AI
// thread when either endpoint is the fixed assistant identity; otherwise it
// is on the doctor thread when either endpoint is the assigned doctor. The
// assistant check wins, so a message can never land on both threads.
//
// Classify is pure. Every read path and the poller use this same function so
// thread contents and unread counts cannot disagree.
func Classify(senderID, receiverID, aiID, doctorUserID uuid.UUID) ThreadKind {
	if aiID != uuid.Nil && (senderID == aiID || receiverID == aiID) {
		return KindAI
	}
	if doctorUserID != uuid.Nil && (senderID == doctorUserID || receiverID == doctorUserID) {
		return KindDoctor
	}
	return KindUnknown
}
