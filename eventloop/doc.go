// Package eventloop serves framed messages from a single goroutine over
// non-blocking sockets, using epoll for readiness. Every connection owns one
// nonblock.MessageStream; the loop reads when a socket is readable and
// flushes queued replies when it is writable, asking for write readiness only
// while a connection has outbound bytes pending.
//
// The package is implemented for Linux.
package eventloop
