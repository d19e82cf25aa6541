package consts

const (
	SSEEventPrefix = "event: "
	SSEDataPrefix  = "data: "
	SSEPingFrame   = ":ping\n\n"
	SSERetryFrame  = "retry: 3000\n\n"

	DefaultEventsChannel = "prophecy-events"
	DefaultNotifyChannel = "prophecy_events"

	PublishMaxSize = 64 * 1024 // 64 KiB
)
