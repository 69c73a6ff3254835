package store

import (
	"fmt"
	"strings"
)

// Key prefixes partition the one embedded database into Relay's logical
// "tables" (SPEC_FULL.md §6), the same scheme omni/internal/common.KeyBuilder
// uses to keep KV/graph/index data apart within a single badger instance.
const (
	MessagePrefix       = "msg:rec:"
	MessageByID         = "msg:by-id:"
	MessageBySubject    = "msg:by-subject:"
	MessageByFrom       = "msg:by-from:"
	MessageByStatus     = "msg:by-status:"
	EndpointPrefix      = "ep:"
	DeadLetterPrefix    = "dl:rec:"
	DeadLetterByTarget  = "dl:by-target:"
	SpanPrefix          = "span:rec:"
	SpanByMessage       = "span:by-msg:"
	AdapterConfigPrefix = "adapter:"
	BindingPrefix       = "bind:"
	SchemaVersionKey    = "meta:schema_version"
)

func MessageKey(createdAtNanos int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", MessagePrefix, createdAtNanos, id))
}

func MessageBySubjectKey(subject string, createdAtNanos int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", MessageBySubject, subject, createdAtNanos, id))
}

func MessageByFromKey(from string, createdAtNanos int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", MessageByFrom, from, createdAtNanos, id))
}

func MessageByStatusKey(status string, createdAtNanos int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", MessageByStatus, status, createdAtNanos, id))
}

func MessageByIDKey(id string) []byte {
	return []byte(MessageByID + id)
}

func MessageBySubjectPrefix(subject string) []byte {
	return []byte(MessageBySubject + subject + ":")
}

func MessageByFromPrefix(from string) []byte {
	return []byte(MessageByFrom + from + ":")
}

func MessageByStatusPrefix(status string) []byte {
	return []byte(MessageByStatus + status + ":")
}

func EndpointKey(subject string) []byte {
	return []byte(EndpointPrefix + subject)
}

func DeadLetterKey(id string) []byte {
	return []byte(DeadLetterPrefix + id)
}

func DeadLetterByTargetKey(endpointHash uint64, id string) []byte {
	return []byte(fmt.Sprintf("%s%d:%s", DeadLetterByTarget, endpointHash, id))
}

func SpanKey(traceID string, timestampNanos int64, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%04d", SpanPrefix, traceID, timestampNanos, seq))
}

func SpanByMessageKey(messageID string, seq int) []byte {
	return []byte(fmt.Sprintf("%s%s:%04d", SpanByMessage, messageID, seq))
}

func SpanByMessagePrefix(messageID string) []byte {
	return []byte(SpanByMessage + messageID + ":")
}

func SpanByTraceIDPrefix(traceID string) []byte {
	return []byte(SpanPrefix + traceID + ":")
}

func AdapterConfigKey(id string) []byte {
	return []byte(AdapterConfigPrefix + id)
}

func BindingKey(id string) []byte {
	return []byte(BindingPrefix + id)
}

// ParseMessageKey extracts the trailing envelope id from a primary message
// key, mirroring the ParseXKey idiom of omni/internal/common.KeyParser.
func ParseMessageKey(key []byte) (id string, ok bool) {
	s := string(key)
	if !strings.HasPrefix(s, MessagePrefix) {
		return "", false
	}
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", false
	}
	return s[idx+1:], true
}
