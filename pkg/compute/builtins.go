package compute

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/ctxresolver/pkg/engine"
)

// Builtin function names.
const (
	BuiltinRequestID   = "request_id"
	BuiltinTimestamp   = "timestamp"
	BuiltinHostname    = "hostname"
	BuiltinStartupTime = "startup_time"
)

// now is replaced in tests.
var now = time.Now

// RegisterBuiltins registers the standard functions on r:
//
//	request_id    REQUEST  random UUID, or request.id from the context when present
//	timestamp     REQUEST  current time, RFC 3339 UTC
//	hostname      STARTUP  os.Hostname
//	startup_time  STARTUP  time of first resolution, RFC 3339 UTC
func RegisterBuiltins(r engine.Registry) error {
	builtins := []struct {
		name  string
		fn    engine.ComputeFunc
		scope engine.Scope
	}{
		{BuiltinRequestID, requestID, engine.ScopeRequest},
		{BuiltinTimestamp, timestamp, engine.ScopeRequest},
		{BuiltinHostname, hostname, engine.ScopeStartup},
		{BuiltinStartupTime, timestamp, engine.ScopeStartup},
	}

	for _, b := range builtins {
		if err := r.Register(b.name, b.fn, b.scope); err != nil {
			return err
		}
	}
	return nil
}

func requestID(_ context.Context, data map[string]interface{}) (interface{}, error) {
	if req, ok := data["request"].(map[string]interface{}); ok {
		if id, ok := req["id"].(string); ok && id != "" {
			return id, nil
		}
	}
	return uuid.New().String(), nil
}

func timestamp(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return now().UTC().Format(time.RFC3339), nil
}

func hostname(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return os.Hostname()
}
