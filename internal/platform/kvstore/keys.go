package kvstore

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/cadence-api/internal/domain"
)

func taskPrefix(owner uuid.UUID) string { return "task." + owner.String() + "." }

func taskKey(owner, id uuid.UUID) string { return taskPrefix(owner) + id.String() }

func ruleKey(owner, id uuid.UUID) string { return "rule." + owner.String() + "." + id.String() }

func reminderTaskPrefix(owner, taskID uuid.UUID) string {
	return "reminder." + owner.String() + "." + taskID.String() + "."
}

func reminderKey(owner, taskID uuid.UUID, offset domain.OffsetType) string {
	return reminderTaskPrefix(owner, taskID) + string(offset)
}

const reminderPrefix = "reminder."

func auditPrefix(owner uuid.UUID) string { return "audit." + owner.String() + "." }

func auditKey(owner, eventID uuid.UUID) string { return auditPrefix(owner) + eventID.String() }

func tagPrefix(owner uuid.UUID) string { return "tag." + owner.String() + "." }

// Tag names may hold characters KV keys cannot.
func tagKey(owner uuid.UUID, name string) string {
	return tagPrefix(owner) + base64.RawURLEncoding.EncodeToString([]byte(name))
}

// entityOf names the kind of record stored under key.
func entityOf(key string) string {
	kind, _, _ := strings.Cut(key, ".")
	return kind
}
