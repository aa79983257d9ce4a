package common

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"

	"github.com/bwmarrin/snowflake"
)

const (
	ENABLED  = "enabled"
	DISABLED = "disabled"
)

var (
	snowflakeNode *snowflake.Node
	snowflakeOnce sync.Once
)

func getNode() *snowflake.Node {
	snowflakeOnce.Do(func() {
		var err error
		snowflakeNode, err = snowflake.NewNode(int64(os.Getpid() % 1024))
		if err != nil {
			panic(err)
		}
	})
	return snowflakeNode
}

// UUIDint64 returns a snowflake-based int64 id.
func UUIDint64() int64 {
	return getNode().Generate().Int64()
}

// UUIDstr returns a snowflake-based string id.
func UUIDstr() string {
	return getNode().Generate().String()
}

// GetSecretSalt returns the process-wide secret salt, overridable via env.
func GetSecretSalt() string {
	if v := os.Getenv("WAGATE_SECRET_SALT"); v != "" {
		return v
	}
	return "wagate-secret"
}

// Sha256HashWithSalt hashes value with the given salt.
func Sha256HashWithSalt(value string, salt string) string {
	sum := sha256.Sum256([]byte(value + salt))
	return hex.EncodeToString(sum[:])
}
