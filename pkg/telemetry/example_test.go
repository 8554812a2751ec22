package telemetry_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/ctxresolver/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("resolver started")
}

// Example_instrumentedResolve shows how a resolution pass is instrumented.
func Example_instrumentedResolve() {
	tel, _ := telemetry.NewTelemetry(telemetry.TestConfig())
	defer tel.Shutdown(context.Background())

	op := tel.StartResolve(context.Background(), "REQUEST", 10)
	compute := tel.StartCompute(op.Ctx, "request_id", "REQUEST")
	compute.EndCompute(nil)
	op.EndResolve(nil, "")
}

// Example_events demonstrates subscribing to lifecycle events.
func Example_events() {
	cfg := telemetry.TestConfig()
	events, _ := telemetry.NewEventPublisher(cfg.Events)

	events.Subscribe(func(ev telemetry.Event) {
		fmt.Println(ev.Type, ev.Function)
	}, telemetry.FilterByType(telemetry.EventTypeFunctionRegistered))

	_ = events.PublishFunctionRegistered("hostname", "STARTUP")
	_ = events.PublishResolutionFailed("REQUEST", "ERR_SECURITY_PATH", errors.New("blocked").Error())

	// Output:
	// function.registered hostname
}
