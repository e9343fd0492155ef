package idempotency

import "strconv"

const keyPrefix = "idempotency:"

// UpdateKey identifies one Telegram message. Telegram message ids are unique per chat.
func UpdateKey(chatID int64, messageID int) string {
	return "update:" + strconv.FormatInt(chatID, 10) + ":" + strconv.Itoa(messageID)
}

func recordKey(key string) string {
	return keyPrefix + key
}

func lockKey(key string) string {
	return keyPrefix + key + ":lock"
}
