// Package permission derives channel authorization decisions from a channel
// snapshot. Every function is total and free of I/O.
package permission

import (
	"slices"

	"github.com/kapbl/chatgate/models"
)

func IsOwner(c models.Channel, username string) bool {
	return username != "" && c.CreatorUsername == username
}

func IsModerator(c models.Channel, username string) bool {
	return username != "" && slices.Contains(c.ModeratorUsernames, username)
}

// CanModerate is true for the owner and for moderators.
func CanModerate(c models.Channel, username string) bool {
	return IsOwner(c, username) || IsModerator(c, username)
}

// IsBlocked never holds for the owner, whatever the stored set says.
func IsBlocked(c models.Channel, username string) bool {
	if IsOwner(c, username) {
		return false
	}
	return username != "" && slices.Contains(c.BlockedUsernames, username)
}

func CanPost(c models.Channel, username string) bool {
	return !IsBlocked(c, username)
}

// Of collects every decision for username in one value.
func Of(c models.Channel, username string) models.Permissions {
	return models.Permissions{
		IsAdmin:     IsOwner(c, username),
		IsModerator: IsModerator(c, username),
		IsBlocked:   IsBlocked(c, username),
		CanModerate: CanModerate(c, username),
	}
}
