package persistence

import "github.com/petrijr/hexflow/pkg/api"

// Ensure every backend implements SessionStore.
var (
	_ SessionStore = (*InMemoryStore)(nil)
	_ SessionStore = (*SQLiteSessionStore)(nil)
	_ SessionStore = (*PostgresSessionStore)(nil)
	_ SessionStore = (*RedisSessionStore)(nil)
	_ SessionStore = (*MongoSessionStore)(nil)
)

// matches reports whether rec passes filter.
func matches(rec *api.SessionRecord, filter api.SessionFilter) bool {
	if filter.WorkflowName != "" && rec.WorkflowName != filter.WorkflowName {
		return false
	}
	if filter.Status != "" && rec.Status != filter.Status {
		return false
	}
	return true
}
