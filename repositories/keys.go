package repositories

import "fmt"

// Key layout
//
//	user:id:{userID}               -> domain.User
//	username:{username}            -> userID
//	group:{groupID}                -> groupRecord
//	msg:{groupID}:{seq}            -> domain.Message (seq zero padded, append order)
//	msgref:{groupID}:{messageID}   -> msg key
//	call:{callID}                  -> domain.Call
//	file:{fileID}                  -> domain.FileRecord
//
// Group ids only contain [a-z0-9-], so a ':' always terminates them.
const (
	userPrefix     = "user:id:"
	usernamePrefix = "username:"
	groupPrefix    = "group:"
	messagePrefix  = "msg:"
	messageRefPref = "msgref:"
	callPrefix     = "call:"
	filePrefix     = "file:"
)

func userKey(id string) []byte { return []byte(userPrefix + id) }

func usernameKey(username string) []byte { return []byte(usernamePrefix + username) }

func groupKey(id string) []byte { return []byte(groupPrefix + id) }

func groupMessagesPrefix(groupID string) []byte {
	return []byte(messagePrefix + groupID + ":")
}

func messageKey(groupID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:%019d", messagePrefix, groupID, seq))
}

func messageRefKey(groupID, messageID string) []byte {
	return []byte(messageRefPref + groupID + ":" + messageID)
}

func callKey(id string) []byte { return []byte(callPrefix + id) }

func fileKey(id string) []byte { return []byte(filePrefix + id) }

// Lock keys are distinct from storage keys: one lock guards every key of an entity.
func userLockKey(id string) string { return "user/" + id }

func usernameLockKey(username string) string { return "username/" + username }

func groupLockKey(id string) string { return "group/" + id }

func callLockKey(id string) string { return "call/" + id }
