// Package syscallcore implements the microkernel's syscall dispatch
// surface (spec §4.F): a typed Syscall sum type, a claim-or-pass handler
// chain, synchronous execution, an async task manager, and a batch
// executor.
//
// Grounded on backend.go's CreateAndServe/StopAndDelete staged,
// unwind-on-failure construction style, generalized from "each step
// either succeeds or rolls back the prior steps" into "each handler
// either claims the call or passes it to the next handler in the
// chain" — the same ordered-collaborator shape applied to dispatch
// instead of teardown.
package syscallcore

// Kind identifies one syscall variant. Grouped by subsystem the way
// spec §4.F groups them: file ops, FD ops, pipes, shared memory, mmap,
// queues, process ops, memory stats, scheduler ops, signals, network
// I/O, time, sandbox/permissions, and the ring's own submit/wait pair.
type Kind string

const (
	// File ops
	KindOpen     Kind = "open"
	KindClose    Kind = "close"
	KindRead     Kind = "read"
	KindWrite    Kind = "write"
	KindFsync    Kind = "fsync"
	KindLseek    Kind = "lseek"
	KindStat     Kind = "stat"
	KindCreate   Kind = "create"
	KindDelete   Kind = "delete"
	KindListDir  Kind = "list_dir"
	KindMkdir    Kind = "mkdir"
	KindRmdir    Kind = "rmdir"
	KindCopy     Kind = "copy"
	KindRename   Kind = "rename"

	// FD ops
	KindDup    Kind = "dup"
	KindDup2   Kind = "dup2"
	KindFcntl  Kind = "fcntl"

	// Pipes
	KindPipeCreate      Kind = "pipe_create"
	KindPipeRead        Kind = "pipe_read"
	KindPipeWrite       Kind = "pipe_write"
	KindPipeCloseReader Kind = "pipe_close_reader"
	KindPipeCloseWriter Kind = "pipe_close_writer"

	// Shared memory
	KindShmCreate  Kind = "shm_create"
	KindShmAttach  Kind = "shm_attach"
	KindShmDetach  Kind = "shm_detach"
	KindShmRead    Kind = "shm_read"
	KindShmWrite   Kind = "shm_write"
	KindShmDestroy Kind = "shm_destroy"

	// mmap
	KindMmap     Kind = "mmap"
	KindMunmap   Kind = "munmap"
	KindMprotect Kind = "mprotect"

	// Queues
	KindQueueCreateFIFO     Kind = "queue_create_fifo"
	KindQueueCreatePriority Kind = "queue_create_priority"
	KindQueueCreatePubSub   Kind = "queue_create_pubsub"
	KindQueueSend           Kind = "queue_send"
	KindQueueReceive        Kind = "queue_receive"
	KindQueueSubscribe      Kind = "queue_subscribe"
	KindQueueUnsubscribe    Kind = "queue_unsubscribe"
	KindQueuePoll           Kind = "queue_poll"
	KindQueueClose          Kind = "queue_close"
	KindQueueDestroy        Kind = "queue_destroy"

	// Process ops
	KindProcessCreate            Kind = "process_create"
	KindProcessCreateWithCommand Kind = "process_create_with_command"
	KindProcessTerminate         Kind = "process_terminate"
	KindProcessGetInfo           Kind = "process_get_info"
	KindProcessList              Kind = "process_list"
	KindProcessSetPriority       Kind = "process_set_priority"

	// Memory stats
	KindMemAllocate      Kind = "mem_allocate"
	KindMemDeallocate    Kind = "mem_deallocate"
	KindMemInfo          Kind = "mem_info"
	KindMemProcessStats  Kind = "mem_process_stats"

	// Scheduler ops
	KindSchedulerSetPolicy  Kind = "scheduler_set_policy"
	KindSchedulerSetQuantum Kind = "scheduler_set_quantum"
	KindSchedulerGetCurrent Kind = "scheduler_get_current"
	KindSchedulerSchedule   Kind = "scheduler_schedule"

	// Signals
	KindSignalSend            Kind = "signal_send"
	KindSignalRegisterHandler Kind = "signal_register_handler"
	KindSignalPending         Kind = "signal_pending"

	// Network I/O
	KindNetConnect Kind = "net_connect"
	KindNetAccept  Kind = "net_accept"
	KindNetSend    Kind = "net_send"
	KindNetRecv    Kind = "net_recv"
	KindNetListen  Kind = "net_listen"

	// Time
	KindTimeNow   Kind = "time_now"
	KindTimeSleep Kind = "time_sleep"

	// Ring (direct access to the completion ring's own submit/wait pair)
	KindRingSubmit         Kind = "ring_submit"
	KindRingWaitCompletion Kind = "ring_wait_completion"

	// Sandbox / permissions
	KindSandboxSet    Kind = "sandbox_set"
	KindSandboxGrant  Kind = "sandbox_grant"
	KindSandboxRevoke Kind = "sandbox_revoke"
	KindPermission    Kind = "permission_check"
)

// Syscall is one dispatchable call: a Kind plus an opaque, kind-specific
// payload. Each Kind's payload is documented alongside the handler that
// consumes it.
type Syscall struct {
	Kind    Kind
	Payload any
}
