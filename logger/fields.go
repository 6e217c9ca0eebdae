package logger

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// SessionKey is the logging context key used for identifying a logical session.
	SessionKey = "session_id"

	// ShardKey is the logging context key used for identifying a physical shard.
	ShardKey = "shard_id"

	// OperationKey is the logging context key used for naming a per-shard operation.
	OperationKey = "op_name"
)

// SessionID returns a field for tracking the logical session that issued a log line.
func SessionID(id uuid.UUID) zapcore.Field {
	return zap.String(SessionKey, id.String())
}

// ShardID returns a field for tracking the physical shard an event happened on.
func ShardID(id uint16) zapcore.Field {
	return zap.Uint16(ShardKey, id)
}

// Operation returns a field naming a per-shard operation.
func Operation(name string) zapcore.Field {
	return zap.String(OperationKey, name)
}

// nextID returns a short random id distinguishing one process' logs from another.
func nextID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "0"
	}
	const digits = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	v := binary.BigEndian.Uint64(b[:])
	out := make([]byte, 0, 11)
	for i := 0; i < 11; i++ {
		out = append(out, digits[v%uint64(len(digits))])
		v /= uint64(len(digits))
	}
	return string(out)
}
