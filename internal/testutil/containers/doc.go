// Package containers runs disposable MySQL and Mosquitto instances for
// tests tagged "integration".
//
// MySQL backs the trigger store and audience repository tests; Mosquitto
// backs the MQTT notification provider. A package normally starts one
// container in TestMain and clears state between tests:
//
//	db, err := containers.NewMySQLContainer(ctx, nil)
//	...
//	t.Cleanup(func() { _ = db.Reset(ctx, "marketing_trigger_executions") })
//
// Both require a reachable Docker daemon:
//
//	go test -tags=integration ./internal/...
package containers
