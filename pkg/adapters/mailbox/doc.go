// Package mailbox provides MailboxProvider implementations.
//
// Implementations:
//   - imap: OAuth2 refresh-token exchange followed by an IMAP session
//     authenticated with XOAUTH2 or OAUTHBEARER
package mailbox
