package domain

import "strconv"

// UserID identifies a remote chat account. It is stable for the lifetime of the account.
type UserID int64

// String renders the identifier in decimal form.
func (id UserID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Int64 returns the raw identifier as used by the chat gateway.
func (id UserID) Int64() int64 {
	return int64(id)
}
