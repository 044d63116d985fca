package logger

import "strings"

// RedactEmail keeps the first two characters of the mailbox and the domain.
// Subaddress tags ("+promo") are dropped since they often identify the
// person on their own. Mailboxes of two characters or fewer are masked
// entirely.
func RedactEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return "***@***"
	}
	mailbox, domain := email[:at], email[at+1:]
	if tag := strings.IndexByte(mailbox, '+'); tag >= 0 {
		mailbox = mailbox[:tag]
	}
	if len(mailbox) <= 2 {
		return "***@" + domain
	}
	return mailbox[:2] + "***@" + domain
}
