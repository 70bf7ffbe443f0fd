// Package client executes outbound HTTP/1.1 requests against one target
// host, or a small set of hosts, over a shared pool of persistent
// connections.
//
// # Building an Executor
//
// An [Executor] is built once from a [hostconfig.HostConfig]:
//
//	cfg, err := hostconfig.New(hostconfig.WithHost("https://api.example.com"))
//	exec, err := client.New(cfg, client.WithLogger(logger))
//	defer exec.Shutdown()
//
// # Describing Requests
//
// A [Spec] is built fluently and executed by a terminal method:
//
//	var items []Item
//	err = exec.Get("/items").Param("limit", "5").Decode(&items)
//
// A string body takes precedence over file and stream bodies, which in turn
// take precedence over parameters. File and stream bodies are sent as
// multipart/form-data with the parameters as extra text parts.
//
// # Consuming Responses
//
// Terminal methods delegate to [Do] with a built-in [Consumer]. Custom
// consumers are built with [NewConsumer]:
//
//	status, err := client.Do(exec.Delete("/items/1"), client.NoResult())
//
// Errors are typed by [github.com/adamwoolhether/hostclient/client/errs]:
// configuration, connection, protocol and content failures.
package client
