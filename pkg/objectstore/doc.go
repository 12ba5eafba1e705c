/*
Package objectstore provides the durable blob storage used to share management
plane state between nodes.

A Store addresses blobs by slash-separated path and hands out BlobAccessors,
which perform synchronous reads and writes on one blob. Three stores are
provided:

  - BoltStore keeps every blob in a single BoltDB file. Paths are stored
    verbatim under an optional root, so "master" and "/master" are distinct.
  - FileStore keeps one file per blob under a base directory, for nodes that
    share a volume. Writes are serialized across processes with an advisory
    lock file.
  - MemoryStore keeps blobs in process memory, for tests and single-process
    experiments.

# Locking Accessors

LockingAccessor wraps a BlobAccessor to give each blob a private write queue:

	Put / Append ──► queue ──► drain goroutine ──► BlobAccessor
	                   │
	Get / Exists ──────┘ (answered from queued writes when possible)

Put and Append return immediately. Writes issued through one LockingAccessor
are applied in issue order; writes through different accessors are
independent. WaitForCurrentWrites blocks, for at most the given timeout, until
every write issued before the call has been applied, and reports the first
write failure that no earlier wait has reported.

One LockingAccessor should exist per path per process. Creating two for the
same path gives up the ordering guarantee between them.
*/
package objectstore
