// Package nats mirrors task events onto NATS subjects and accepts remote
// cancellation requests, optionally from an embedded NATS server.
//
// # Architecture
//
//   - Server: embedded NATS server running in the main process (taskworker serve)
//   - Bridge: forwards event bus traffic to NATS and serves cancel requests
//   - ControlClient: sends cancel requests (taskworker cancel <id>)
//
// # Subject Hierarchy
//
//	taskworker.tasks.{task_id}.submitted   # Task accepted by the queue
//	taskworker.tasks.{task_id}.state       # Lifecycle transitions
//	taskworker.tasks.{task_id}.output      # Output chunks, with sequence numbers
//	taskworker.tasks.{task_id}.escalation  # Termination steps
//	taskworker.control.{task_id}.cancel    # Cancel request (request/reply)
//
// Events use core NATS (no JetStream): subscribers that are not connected miss
// them. Use the HTTP output endpoint to recover buffered output.
//
// # Debugging with nats CLI
//
// Follow everything a task does:
//
//	nats sub "taskworker.tasks.<task_id>.>"
//
// Cancel a task:
//
//	nats req "taskworker.control.<task_id>.cancel" '{"action":"cancel","task_id":"<task_id>"}'
package nats
