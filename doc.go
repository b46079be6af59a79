// Package channel implements an in-process asynchronous channel primitive
// used to move values of a user type T from producers to consumers under
// cooperative concurrency.
//
// Two concrete shapes are provided on top of a shared abstract engine:
//
//   - [ArrayChannel]: a fixed-capacity bounded buffer. Producers suspend
//     when it is full, consumers suspend when it is empty, delivery is
//     FIFO.
//   - [ConflatedChannel]: a single-slot channel. Producers never suspend;
//     each send overwrites any unreceived element. Consumers suspend when
//     the slot is empty.
//
// Both channels share a lock-free waiter queue, a two-phase resume
// protocol used to cooperate with [Select], and the same close/cancel
// protocol. See engine.go for the shared machinery and array_channel.go /
// conflated_channel.go for the two buffer policies.
//
// The scheduler that actually resumes a suspended participant is treated
// as an external collaborator: engine code never blocks an OS thread, it
// parks the calling goroutine on a [Continuation] and hands resumption
// back to whoever calls Resume. See continuation.go.
package channel
