package common

const (
	ComponentHistorical   = "historical"
	ComponentRequestQueue = "request-queue"
	ComponentSyncStore    = "sync-store"
	ComponentTaskQueue    = "task-queue"
)

var AllComponents = map[string]struct{}{
	ComponentHistorical:   {},
	ComponentRequestQueue: {},
	ComponentSyncStore:    {},
	ComponentTaskQueue:    {},
}
