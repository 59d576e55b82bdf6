package broker

// The notification service consumes message-created events from this stream
// to fan out push/email notifications for offline recipients.
var (
	StreamName            = "CHATS"
	SubjectMessageCreated = StreamName + "." + "message.created"
)
