package demo

import "github.com/customeros/mailbackend/internal/enum"

type demoFolder struct {
	serverID   string
	name       string
	folderType enum.FolderType
	messages   []demoMessage
}

type demoMessage struct {
	serverID string
	flags    []enum.Flag
	raw      string
}

const (
	INBOX   = "inbox"
	DRAFTS  = "drafts"
	SENT    = "sent"
	TRASH   = "trash"
	SPAM    = "spam"
	ARCHIVE = "archive"
)

var demoFolders = []demoFolder{
	{
		serverID:   INBOX,
		name:       "Inbox",
		folderType: enum.FolderTypeInbox,
		messages: []demoMessage{
			{
				serverID: "intro",
				raw: "From: Demo Team <team@demo.customeros.ai>\r\n" +
					"To: you@demo.customeros.ai\r\n" +
					"Subject: Welcome to your demo mailbox\r\n" +
					"Date: Mon, 02 Sep 2024 09:00:00 +0000\r\n" +
					"Message-ID: <intro@demo.customeros.ai>\r\n" +
					"Content-Type: text/plain; charset=utf-8\r\n" +
					"\r\n" +
					"Everything in this account lives in memory. Nothing leaves your device.\r\n",
			},
			{
				serverID: "invoice",
				flags:    []enum.Flag{enum.FlagSeen},
				raw: "From: Billing <billing@demo.customeros.ai>\r\n" +
					"To: you@demo.customeros.ai\r\n" +
					"Subject: Your invoice for August\r\n" +
					"Date: Sun, 01 Sep 2024 12:30:00 +0000\r\n" +
					"Message-ID: <invoice-08@demo.customeros.ai>\r\n" +
					"MIME-Version: 1.0\r\n" +
					"Content-Type: multipart/mixed; boundary=\"demo-boundary\"\r\n" +
					"\r\n" +
					"--demo-boundary\r\n" +
					"Content-Type: text/plain; charset=utf-8\r\n" +
					"\r\n" +
					"The invoice is attached.\r\n" +
					"--demo-boundary\r\n" +
					"Content-Type: text/csv; name=\"invoice.csv\"\r\n" +
					"Content-Disposition: attachment; filename=\"invoice.csv\"\r\n" +
					"Content-Transfer-Encoding: base64\r\n" +
					"\r\n" +
					"aXRlbSxhbW91bnQKZGVtbywwCg==\r\n" +
					"--demo-boundary--\r\n",
			},
			{
				serverID: "meeting",
				flags:    []enum.Flag{enum.FlagFlagged},
				raw: "From: Alex <alex@demo.customeros.ai>\r\n" +
					"To: you@demo.customeros.ai\r\n" +
					"Cc: team@demo.customeros.ai\r\n" +
					"Subject: Planning meeting on Thursday\r\n" +
					"Date: Sat, 31 Aug 2024 16:45:00 +0000\r\n" +
					"Message-ID: <meeting@demo.customeros.ai>\r\n" +
					"Content-Type: text/html; charset=utf-8\r\n" +
					"\r\n" +
					"<p>Can we move the planning meeting to <b>Thursday</b>?</p>\r\n",
			},
		},
	},
	{
		serverID:   DRAFTS,
		name:       "Drafts",
		folderType: enum.FolderTypeDrafts,
		messages: []demoMessage{
			{
				serverID: "draft-reply",
				flags:    []enum.Flag{enum.FlagDraft, enum.FlagSeen},
				raw: "From: you@demo.customeros.ai\r\n" +
					"To: Alex <alex@demo.customeros.ai>\r\n" +
					"Subject: Re: Planning meeting on Thursday\r\n" +
					"In-Reply-To: <meeting@demo.customeros.ai>\r\n" +
					"Message-ID: <draft-reply@demo.customeros.ai>\r\n" +
					"Content-Type: text/plain; charset=utf-8\r\n" +
					"\r\n" +
					"Thursday works for me.\r\n",
			},
		},
	},
	{
		serverID:   SENT,
		name:       "Sent",
		folderType: enum.FolderTypeSent,
		messages: []demoMessage{
			{
				serverID: "sent-hello",
				flags:    []enum.Flag{enum.FlagSeen},
				raw: "From: you@demo.customeros.ai\r\n" +
					"To: team@demo.customeros.ai\r\n" +
					"Subject: Hello team\r\n" +
					"Date: Fri, 30 Aug 2024 08:15:00 +0000\r\n" +
					"Message-ID: <sent-hello@demo.customeros.ai>\r\n" +
					"Content-Type: text/plain; charset=utf-8\r\n" +
					"\r\n" +
					"Looking forward to working with you.\r\n",
			},
		},
	},
	{serverID: TRASH, name: "Trash", folderType: enum.FolderTypeTrash},
	{
		serverID:   SPAM,
		name:       "Spam",
		folderType: enum.FolderTypeSpam,
		messages: []demoMessage{
			{
				serverID: "prize",
				raw: "From: Lottery <winner@spam.example>\r\n" +
					"To: you@demo.customeros.ai\r\n" +
					"Subject: You have won!\r\n" +
					"Date: Thu, 29 Aug 2024 03:00:00 +0000\r\n" +
					"Message-ID: <prize@spam.example>\r\n" +
					"Content-Type: text/plain; charset=utf-8\r\n" +
					"\r\n" +
					"Claim your prize today.\r\n",
			},
		},
	},
	{serverID: ARCHIVE, name: "Archive", folderType: enum.FolderTypeArchive},
}
