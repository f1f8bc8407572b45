package router

import (
	"fmt"
	"strings"
)

// Clients match on these strings; keep them byte-for-byte stable.
const (
	ReplyInvalidCommand      = "Invalid command."
	ReplyInvalidGroupCommand = "Invalid group command."
)

func UserNotFound(username string) string {
	return fmt.Sprintf("User %s not found.", username)
}

func GroupNotFound(name string) string {
	return fmt.Sprintf("Group %s not found.", name)
}

func GroupAlreadyExists(name string) string {
	return fmt.Sprintf("Group %s already exists.", name)
}

func GroupCreated(name string) string {
	return fmt.Sprintf("Group %s created successfully.", name)
}

func GroupJoined(name string) string {
	return fmt.Sprintf("You have joined group %s.", name)
}

func GroupLeft(name string) string {
	return fmt.Sprintf("You have left group %s.", name)
}

func AlreadyMember(name string) string {
	return fmt.Sprintf("You are already a member of group %s.", name)
}

func NotAMember(name string) string {
	return fmt.Sprintf("You are not a member of group %s.", name)
}

func GroupMembers(name string, members []string) string {
	return fmt.Sprintf("Members of group %s: %s", name, strings.Join(members, ", "))
}

func AlreadyLoggedIn(username string) string {
	return fmt.Sprintf("User %s is already logged in.", username)
}

func BroadcastContent(sender, text string) string {
	return sender + ": " + text
}

func DirectContent(sender, text string) string {
	return fmt.Sprintf("[%s] %s", sender, text)
}

func GroupContent(name, sender, text string) string {
	return fmt.Sprintf("[Group %s from %s] %s", name, sender, text)
}
