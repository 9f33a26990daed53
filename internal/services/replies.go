package services

import "fmt"

// Outbound reply texts. Kept together so copy changes never touch the state
// machine.
const (
	replyIdentityPrompt   = "Welcome to Veriflow. To get started, please send your document number (8 to 10 digits)."
	replyIdentityInvalid  = "That doesn't look like a valid document number. Please send 8 to 10 digits, e.g. 12345678."
	replyIdentityNotFound = "We couldn't find a record for that document number. Please check it and try again."
	replyCodeFormat       = "The verification code is exactly 6 digits. Please re-send just the code."
	replyRestartExpired   = "Your verification code is no longer valid. Let's start over: please send your document number."
	replyRestartExhausted = "Too many incorrect codes. Let's start over: please send your document number."
	replyActionMenu       = "What would you like to do?\n1. Request an account statement\n2. Update your contact email\n\nReply with 1 or 2."
	replyEmailPrompt      = "Please send the new contact email address."
	replyEmailInvalid     = "That doesn't look like a valid email address. Please try again."
	replyFinalPrompt      = "Anything else? Reply MENU for more actions or EXIT to finish."
	replyGoodbye          = "Thanks for using Veriflow. Goodbye!"
	replySessionExpired   = "Your session expired after inactivity. Message us again to start over."
	replyRetryLater       = "We're having trouble processing your request right now. Please try again in a few minutes."
	replyBlockedPermanent = "This number has been blocked due to repeated abuse. Contact support to regain access."
)

func replyCodeSent(maskedTarget string, ttlMinutes int) string {
	return fmt.Sprintf("We've sent a 6-digit verification code to %s. It's valid for %d minutes — reply with the code.", maskedTarget, ttlMinutes)
}

func replyWrongCode(remaining int) string {
	if remaining == 1 {
		return "That code is incorrect. You have 1 attempt left."
	}
	return fmt.Sprintf("That code is incorrect. You have %d attempts left.", remaining)
}

func replyVerified(displayName string) string {
	return fmt.Sprintf("Thanks %s, your identity is verified.\n\n%s", displayName, replyActionMenu)
}

func replyBlockedTemporary(minutes int) string {
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Too many requests. This number is temporarily blocked — try again in about %d minutes.", minutes)
}

func replyStatementReady(ref string) string {
	return fmt.Sprintf("Your account statement has been generated (reference %s) and will be sent to your contact email.\n\n%s", ref, replyFinalPrompt)
}

func replyEmailUpdated(email string) string {
	return fmt.Sprintf("Your contact email has been updated to %s.\n\n%s", email, replyFinalPrompt)
}
